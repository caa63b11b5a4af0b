package tui

import (
	"fmt"
	"strconv"

	"nodetop/pkg/utils"
)

// placeholder stands in for any value not observed yet.
const placeholder = "<unknown>"

const fallbackAddrWidth = 10

func some(s string) *string { return &s }

func valueOr(v *string) string {
	if v == nil {
		return placeholder
	}
	return *v
}

func uintStr(v uint64) *string { return some(strconv.FormatUint(v, 10)) }

func capacityText(shannons uint64) string {
	return fmt.Sprintf("%s (%s)", utils.FormatCapacity(shannons), utils.HumanCapacity(shannons))
}
