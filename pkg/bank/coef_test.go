package bank

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func coefText(order, npred, values int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# codebook\n%d\n%d\n", order, npred)
	for i := 0; i < values; i++ {
		sep := " "
		if i%8 == 7 {
			sep = ",\n"
		}
		fmt.Fprintf(&b, "%d%s", i-8, sep)
	}
	return b.String()
}

func TestParseCoef(t *testing.T) {
	book, err := ParseCoef(strings.NewReader(coefText(2, 2, 32)), "kick.coef")
	if err != nil {
		t.Fatalf("ParseCoef() error = %v", err)
	}
	if book.Order != 2 || book.NPredictors != 2 {
		t.Errorf("Order/NPredictors = %d/%d, want 2/2", book.Order, book.NPredictors)
	}
	if len(book.Book) != 32 {
		t.Fatalf("len(Book) = %d, want 32", len(book.Book))
	}
	if book.Book[0] != -8 || book.Book[31] != 23 {
		t.Errorf("Book[0], Book[31] = %d, %d, want -8, 23", book.Book[0], book.Book[31])
	}
	p := book.Predictor(1)
	if len(p) != 16 || p[0] != 8 {
		t.Errorf("Predictor(1) = %v, want 16 values starting at 8", p)
	}
	if book.Predictor(2) != nil {
		t.Error("Predictor(2) should be nil")
	}
}

func TestParseCoefErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantMsg string
	}{
		{"too few values", coefText(2, 1, 15), "missing codebook value 16 of 16"},
		{"too many values", coefText(1, 1, 9), "unexpected"},
		{"bad order", "0 1\n", "order 0 outside"},
		{"value too large", "1 1 70000 0 0 0 0 0 0 0\n", "does not fit 16 bits"},
		{"not a number", "1 1 a\n", "expected codebook value"},
		{"empty", "", "missing order"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCoef(strings.NewReader(tt.input), "bad.coef")
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("ParseCoef() error = %v, want *ParseError", err)
			}
			if !strings.Contains(perr.Msg, tt.wantMsg) {
				t.Errorf("Msg = %q, want it to contain %q", perr.Msg, tt.wantMsg)
			}
		})
	}
}
