package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// GenerateLotNumber derives a lot number for a reception line that arrived
// without one. The same inputs always give the same number, so a retried
// resolution reuses it and the lots unique index catches real collisions.
func GenerateLotNumber(tenantID, productID, receptionID string, lineIndex int, receptionDate time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", tenantID, productID, receptionID, lineIndex)))
	return fmt.Sprintf("LOT-%s-%s", receptionDate.Format("20060102"), strings.ToUpper(hex.EncodeToString(sum[:4])))
}
