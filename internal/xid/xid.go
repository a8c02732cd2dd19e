package xid

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

func New(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

var invoiceSuffixRange = big.NewInt(10000)

// Invoice formats a human-readable invoice number: INV-YYYYMMDD-HHMMSS-NNNN.
// The suffix is random, so two terminals finalizing in the same second rarely
// collide. The store refuses a second sale under a taken number and the
// finalizer draws a new one.
func Invoice(now time.Time) string {
	n, err := rand.Int(rand.Reader, invoiceSuffixRange)
	suffix := int64(0)
	if err == nil {
		suffix = n.Int64()
	} else {
		suffix = now.UnixNano() % 10000
	}
	return fmt.Sprintf("INV-%s-%04d", now.Format("20060102-150405"), suffix)
}
