package attestation

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeReport(t *testing.T, dir string, mrenclave [32]byte, isvsvn uint16) {
	t.Helper()
	raw := make([]byte, 432)
	for i := 0; i < 16; i++ {
		raw[offCPUSVN+i] = byte(i + 1)
	}
	copy(raw[offMREnclave:], mrenclave[:])
	raw[offMRSigner] = 0x5a
	binary.LittleEndian.PutUint16(raw[offISVProdID:], 7)
	binary.LittleEndian.PutUint16(raw[offISVSVN:], isvsvn)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report"), raw, 0o600))
}

func TestExecutableMeasurer_MeasuresEveryCall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay-bin")
	require.NoError(t, os.WriteFile(path, []byte("build-1"), 0o700))

	m := ExecutableMeasurer{Path: path}
	first, err := m.Measure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [32]byte(sha256.Sum256([]byte("build-1"))), first)

	require.NoError(t, os.WriteFile(path, []byte("build-2"), 0o700))
	second, err := m.Measure(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestExecutableMeasurer_Self(t *testing.T) {
	m, err := ExecutableMeasurer{}.Measure(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, [32]byte{}, m)
}

func TestExecutableMeasurer_Missing(t *testing.T) {
	_, err := ExecutableMeasurer{Path: filepath.Join(t.TempDir(), "nope")}.Measure(context.Background())
	assert.Error(t, err)
}

func TestGramineMeasurer(t *testing.T) {
	dir := t.TempDir()
	var mr [32]byte
	mr[0], mr[31] = 0xde, 0xad
	writeReport(t, dir, mr, 3)

	got, err := GramineMeasurer{Dir: dir}.Measure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, mr, got)

	r, err := ReadReport(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, uint16(3), r.ISVSVN)
	assert.Equal(t, uint16(7), r.ISVProdID)
	assert.Equal(t, byte(1), r.CPUSVN[0])
	assert.Equal(t, byte(0x5a), r.MRSigner[0])
}

func TestParseReport_Short(t *testing.T) {
	_, err := ParseReport(make([]byte, 100))
	assert.Error(t, err)
}

func TestGramineMeasurer_NotInEnclave(t *testing.T) {
	_, err := GramineMeasurer{Dir: t.TempDir()}.Measure(context.Background())
	assert.Error(t, err)
}

type failingMeasurer struct{}

func (failingMeasurer) Measure(context.Context) ([32]byte, error) {
	return [32]byte{}, errors.New("no enclave")
}

func TestBuilder_Build(t *testing.T) {
	md := Metadata{
		Name:          "nostrust",
		Description:   "sealed relay",
		Contact:       "ops@example.com",
		SupportedNIPs: []int{1, 11},
		Software:      "nostrust",
		Version:       "0.1.0",
	}
	var m StaticMeasurer
	m[0] = 0x42

	d, err := NewBuilder(md, m).Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "nostrust", d.Name)
	assert.Nil(t, d.Banner)
	require.NotNil(t, d.Contact)
	assert.Equal(t, "ops@example.com", *d.Contact)
	assert.Equal(t, []int{1, 11}, d.SupportedNIPs)
	assert.Equal(t, [32]byte(m), d.Attestation)
	assert.Equal(t, "42", Hex(d.Attestation)[:2])
}

func TestBuilder_MeasurementFailure(t *testing.T) {
	_, err := NewBuilder(Metadata{}, failingMeasurer{}).Build(context.Background())
	assert.Error(t, err)

	_, err = NewBuilder(Metadata{}, nil).Build(context.Background())
	assert.Error(t, err)
}
