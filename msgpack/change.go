package unitmsgpack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"unitconv"
)

type ChangeOp string

const (
	OpAddUnits          ChangeOp = "add_units"
	OpRemoveUnits       ChangeOp = "remove_units"
	OpAddConversions    ChangeOp = "add_conversions"
	OpRemoveConversions ChangeOp = "remove_conversions"
)

// Change is one catalog mutation as it travels on a change feed.
type Change struct {
	Op          ChangeOp         `msgpack:"op"`
	Units       []Unit           `msgpack:"units,omitempty"`
	UnitIDs     []int            `msgpack:"unit_ids,omitempty"`
	Conversions []UnitConversion `msgpack:"conversions,omitempty"`
}

// ChangeBuffer decodes a stream of msgpack encoded changes that may arrive
// split across reads.
type ChangeBuffer struct {
	buf bytes.Buffer
}

// Feed appends data and returns every change that is now complete. A
// trailing partial change stays buffered for the next call. On a decode
// error the buffered bytes are discarded.
func (cb *ChangeBuffer) Feed(data []byte) ([]Change, error) {
	cb.buf.Write(data)

	var results []Change
	for cb.buf.Len() > 0 {
		r := bytes.NewReader(cb.buf.Bytes())
		var c Change
		if err := msgpack.NewDecoder(r).Decode(&c); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			// The rest of the stream cannot be framed any more.
			cb.buf.Reset()
			return results, err
		}
		cb.buf.Next(cb.buf.Len() - r.Len())
		results = append(results, c)
	}
	return results, nil
}

func EncodeChange(w io.Writer, c Change) error {
	return msgpack.NewEncoder(w).Encode(&c)
}

// Apply runs the changes against m in order and stops at the first failure.
func Apply(ctx context.Context, m unitconv.Mutator, changes ...Change) error {
	for i, c := range changes {
		var err error
		switch c.Op {
		case OpAddUnits:
			units := make([]unitconv.Unit, len(c.Units))
			for j, u := range c.Units {
				units[j] = ToUnit(u)
			}
			err = m.AddUnits(ctx, units...)
		case OpRemoveUnits:
			err = m.RemoveUnits(ctx, c.UnitIDs...)
		case OpAddConversions:
			err = m.AddConversionFacts(ctx, conversionFacts(c.Conversions)...)
		case OpRemoveConversions:
			err = m.RemoveConversionFacts(ctx, conversionFacts(c.Conversions)...)
		default:
			err = fmt.Errorf("unknown op %q", c.Op)
		}
		if err != nil {
			return fmt.Errorf("apply change %d (%s): %w", i, c.Op, err)
		}
	}
	return nil
}

func conversionFacts(cs []UnitConversion) []unitconv.ConversionFact {
	facts := make([]unitconv.ConversionFact, len(cs))
	for i, c := range cs {
		facts[i] = ToConversionFact(c)
	}
	return facts
}
