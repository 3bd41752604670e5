package body

import (
	"encoding/xml"
	"io"

	"github.com/nbody-sim/barnes-hut/internal/vector"
)

// xmlDocument is the on-disk shape of a body file (spec §6): a
// self-describing sequence of {position, velocity, mass} records. No
// byte-level compatibility with the original implementation's encoder is
// required, only that encode/decode round-trip.
type xmlDocument[T vector.Scalar] struct {
	XMLName xml.Name    `xml:"bodies"`
	Bodies  []xmlRecord[T] `xml:"body"`
}

type xmlRecord[T vector.Scalar] struct {
	Position []T `xml:"position"`
	Velocity []T `xml:"velocity"`
	Mass     T   `xml:"mass"`
}

// EncodeBodies writes bodies to w as indented XML.
func EncodeBodies[T vector.Scalar](w io.Writer, bodies Bodies[T]) error {
	doc := xmlDocument[T]{Bodies: make([]xmlRecord[T], len(bodies))}
	for i, b := range bodies {
		doc.Bodies[i] = xmlRecord[T]{
			Position: append([]T(nil), b.Position...),
			Velocity: append([]T(nil), b.Velocity...),
			Mass:     b.Mass,
		}
	}

	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n"))
	return err
}

// DecodeBodies reads a body file written by EncodeBodies (or any encoder
// producing the same schema).
func DecodeBodies[T vector.Scalar](r io.Reader) (Bodies[T], error) {
	var doc xmlDocument[T]
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, err
	}

	bodies := make(Bodies[T], len(doc.Bodies))
	for i, rec := range doc.Bodies {
		bodies[i] = Body[T]{
			Position: vector.Vector[T](rec.Position),
			Velocity: vector.Vector[T](rec.Velocity),
			Mass:     rec.Mass,
		}
	}
	return bodies, nil
}
