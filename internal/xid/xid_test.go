package xid

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInvoiceFormat(t *testing.T) {
	at := time.Date(2025, 3, 7, 14, 5, 9, 0, time.UTC)
	inv := Invoice(at)

	assert.Regexp(t, regexp.MustCompile(`^INV-20250307-140509-\d{4}$`), inv)
}

func TestNewUsesPrefix(t *testing.T) {
	a := New("shift")
	b := New("shift")

	assert.True(t, strings.HasPrefix(a, "shift-"))
	assert.NotEqual(t, a, b)
}
