package bank

import (
	"fmt"
	"io"
)

// PredictorSize is the number of codebook entries per order per predictor.
const PredictorSize = 8

// ADPCMBook is an ADPCM codebook.
type ADPCMBook struct {
	Order       int32   `json:"order"`
	NPredictors int32   `json:"npredictors"`
	Book        []int16 `json:"book"`
}

// ParseCoef reads a .coef codebook: the order, the number of predictors, then
// order*npredictors*8 signed 16-bit values, separated by whitespace or commas.
func ParseCoef(r io.Reader, name string) (*ADPCMBook, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	lex := newLexer(name, src)

	nextNumber := func(what string) (token, error) {
		for {
			t, err := lex.next()
			if err != nil {
				return t, err
			}
			switch {
			case t.kind == tokPunct && t.text == ",":
				continue
			case t.kind == tokNumber:
				return t, nil
			case t.kind == tokEOF:
				return t, newParseError(name, t.line, "missing %s", what)
			}
			return t, newParseError(name, t.line, "expected %s, got %s", what, t)
		}
	}

	order, err := nextNumber("order")
	if err != nil {
		return nil, err
	}
	npred, err := nextNumber("predictor count")
	if err != nil {
		return nil, err
	}
	if order.num < 1 || order.num > 8 {
		return nil, newParseError(name, order.line, "order %d outside [1, 8]", order.num)
	}
	if npred.num < 1 || npred.num > 16 {
		return nil, newParseError(name, npred.line, "predictor count %d outside [1, 16]", npred.num)
	}

	book := &ADPCMBook{
		Order:       int32(order.num),
		NPredictors: int32(npred.num),
		Book:        make([]int16, 0, order.num*npred.num*PredictorSize),
	}
	want := cap(book.Book)
	for len(book.Book) < want {
		v, err := nextNumber(fmt.Sprintf("codebook value %d of %d", len(book.Book)+1, want))
		if err != nil {
			return nil, err
		}
		if v.num < -0x8000 || v.num > 0x7FFF {
			return nil, newParseError(name, v.line, "codebook value %d does not fit 16 bits", v.num)
		}
		book.Book = append(book.Book, int16(v.num))
	}
	for {
		t, err := lex.next()
		if err != nil {
			return nil, err
		}
		if t.kind == tokEOF {
			break
		}
		if t.kind != tokPunct || t.text != "," {
			return nil, newParseError(name, t.line, "unexpected %s after %d codebook values", t, want)
		}
	}
	return book, nil
}

// Predictor returns the PredictorSize*Order coefficients of predictor i.
func (b *ADPCMBook) Predictor(i int) []int16 {
	n := int(b.Order) * PredictorSize
	if i < 0 || (i+1)*n > len(b.Book) {
		return nil
	}
	return b.Book[i*n : (i+1)*n]
}
