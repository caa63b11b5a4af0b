package utils

import (
	"fmt"
	"strings"

	"nodetop/pkg/models"

	"github.com/dustin/go-humanize"
)

// FormatCapacity renders shannons as whole.fraction CKB with eight fraction digits.
func FormatCapacity(shannons uint64) string {
	return fmt.Sprintf("%d.%08d", shannons/models.ShannonsPerCKB, shannons%models.ShannonsPerCKB)
}

// HumanCapacity renders shannons with an SI prefix, e.g. "1.5M CKB".
func HumanCapacity(shannons uint64) string {
	ckb := float64(shannons) / models.ShannonsPerCKB
	return strings.ReplaceAll(humanize.SIWithDigits(ckb, 2, ""), " ", "") + " CKB"
}
