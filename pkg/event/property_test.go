//go:build property
// +build property

package event_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/karipov/nostrust/pkg/event"
)

func genTags() gopter.Gen {
	return gen.SliceOfN(3, gen.SliceOfN(2, gen.AlphaString()))
}

// Property: Verify(NewSigned(k, ...)) for any key and payload.
func TestSignedEventsVerify(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("signed events verify", prop.ForAll(
		func(kind int, tags [][]string, content string) bool {
			priv, err := event.GenerateKey()
			if err != nil {
				return false
			}
			e, err := event.NewSigned(priv, kind, tags, content, 1700000000)
			if err != nil {
				return false
			}
			return event.Verify(e)
		},
		gen.IntRange(0, 40000),
		genTags(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// Property: mutating kind, content or pubkey after signing breaks verification.
func TestMutationBreaksVerification(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	author, err := event.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	intruder, err := event.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	properties.Property("mutations are detected", prop.ForAll(
		func(kind int, content string, which int) bool {
			e, err := event.NewSigned(author, kind, nil, content, 1700000000)
			if err != nil {
				return false
			}
			switch which {
			case 0:
				e.Kind++
			case 1:
				e.Content += "x"
			default:
				e.PubKey = event.PublicKeyHex(intruder)
			}
			return !event.Verify(e)
		},
		gen.IntRange(0, 40000),
		gen.AlphaString(),
		gen.IntRange(0, 2),
	))

	properties.TestingRun(t)
}

// Property: ComputeID depends only on (pubkey, created_at, kind, tags, content).
func TestComputeIDIgnoresIDAndSig(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("id and sig do not participate", prop.ForAll(
		func(pubkey, content, id1, sig1, id2, sig2 string, createdAt int64, tags [][]string) bool {
			a := event.Event{ID: id1, Sig: sig1, PubKey: pubkey, CreatedAt: createdAt, Kind: 1, Tags: tags, Content: content}
			b := a.Clone()
			b.ID, b.Sig = id2, sig2
			return event.ComputeID(a) == event.ComputeID(b)
		},
		gen.AlphaString(), gen.AnyString(),
		gen.AlphaString(), gen.AlphaString(), gen.AlphaString(), gen.AlphaString(),
		gen.Int64Range(0, 1<<40),
		genTags(),
	))

	properties.TestingRun(t)
}
