package core

import "strings"

// Status markers in raw sale status text. They overlap (for example
// "认购转签约" contains both), so ClassifySaleStatus checks them in a fixed
// order and the first hit wins.
const (
	markerSigned                  = "签约"
	markerSubscribed              = "认购"
	markerMortgageOffsetCompleted = "工抵完成"
)

var statusRules = []struct {
	marker string
	status UnitStatus
}{
	{markerSigned, UnitSigned},
	{markerSubscribed, UnitSubscribed},
	{markerMortgageOffsetCompleted, UnitMortgageOffsetCompleted},
}

// ClassifySaleStatus derives a unit status from its raw sale status text.
func ClassifySaleStatus(raw string) UnitStatus {
	status, _ := classify(raw)
	return status
}

func classify(raw string) (UnitStatus, string) {
	text := strings.TrimSpace(raw)
	for _, rule := range statusRules {
		if strings.Contains(text, rule.marker) {
			return rule.status, rule.marker
		}
	}
	return UnitAvailable, ""
}

var statusLabels = map[UnitStatus]string{
	UnitAvailable:               "可售",
	UnitSubscribed:              "已认购",
	UnitSigned:                  "已签约",
	UnitMortgageOffsetCompleted: "工抵完成",
}

// Display returns the operator-facing label of a status.
func (s UnitStatus) Display() string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return string(s)
}

// StatusBasis explains which marker produced the status of raw.
func StatusBasis(raw string) string {
	_, marker := classify(raw)
	switch {
	case strings.TrimSpace(raw) == "":
		return "销售状态为空，默认可售"
	case marker == "":
		return "销售状态「" + strings.TrimSpace(raw) + "」未命中关键字，默认可售"
	default:
		return "销售状态「" + strings.TrimSpace(raw) + "」包含「" + marker + "」"
	}
}
