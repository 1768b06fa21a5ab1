package attestation

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultGramineDir is the Gramine attestation pseudo-filesystem.
const DefaultGramineDir = "/dev/attestation"

// SGX report body layout.
const (
	reportBodySize  = 384
	offCPUSVN       = 0
	offMREnclave    = 64
	offMRSigner     = 128
	offISVProdID    = 256
	offISVSVN       = 258
	offReportData   = 320
	reportDataBytes = 64
)

// Report is the subset of an SGX enclave report the relay uses.
type Report struct {
	CPUSVN     [16]byte
	MREnclave  [32]byte
	MRSigner   [32]byte
	ISVProdID  uint16
	ISVSVN     uint16
	ReportData [reportDataBytes]byte
}

// ParseReport decodes an sgx_report_t (or its body).
func ParseReport(raw []byte) (Report, error) {
	var r Report
	if len(raw) < reportBodySize {
		return r, fmt.Errorf("attestation: report too short: %d bytes", len(raw))
	}
	copy(r.CPUSVN[:], raw[offCPUSVN:offCPUSVN+16])
	copy(r.MREnclave[:], raw[offMREnclave:offMREnclave+32])
	copy(r.MRSigner[:], raw[offMRSigner:offMRSigner+32])
	r.ISVProdID = binary.LittleEndian.Uint16(raw[offISVProdID:])
	r.ISVSVN = binary.LittleEndian.Uint16(raw[offISVSVN:])
	copy(r.ReportData[:], raw[offReportData:offReportData+reportDataBytes])
	return r, nil
}

// ReadReport reads the enclave's own report from a Gramine attestation
// directory.
func ReadReport(ctx context.Context, dir string) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	if dir == "" {
		dir = DefaultGramineDir
	}
	raw, err := os.ReadFile(filepath.Join(dir, "report"))
	if err != nil {
		return Report{}, fmt.Errorf("attestation: read report: %w", err)
	}
	return ParseReport(raw)
}

// GramineMeasurer reports MRENCLAVE from the enclave report.
type GramineMeasurer struct {
	Dir string
}

// Measure implements Measurer.
func (m GramineMeasurer) Measure(ctx context.Context) ([32]byte, error) {
	r, err := ReadReport(ctx, m.Dir)
	if err != nil {
		return [32]byte{}, err
	}
	return r.MREnclave, nil
}
