package sequence

import (
	"fmt"
	"time"
)

const (
	visitPrefix = "V"
	tokenPrefix = "T"
	dateKeyFmt  = "20060102"
)

// Allocation is one visit's worth of numbers for a tenant and day.
type Allocation struct {
	DateKey     string `json:"dateKey"`
	VisitSeq    int    `json:"visitSeq"`
	TokenSeq    int    `json:"tokenSeq"`
	VisitNumber string `json:"visitNumber"`
	TokenNumber string `json:"tokenNumber"`
}

// DateKey is the facility-local YYYYMMDD key for t.
func DateKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(dateKeyFmt)
}

// VisitNumber formats V-{ORG}-{YYMMDD}-{NNNN}.
func VisitNumber(orgCode, dateKey string, seq int) string {
	return format(visitPrefix, orgCode, dateKey, seq)
}

// TokenNumber formats T-{ORG}-{YYMMDD}-{NNNN}.
func TokenNumber(orgCode, dateKey string, seq int) string {
	return format(tokenPrefix, orgCode, dateKey, seq)
}

func format(prefix, orgCode, dateKey string, seq int) string {
	return fmt.Sprintf("%s-%s-%s-%04d", prefix, orgCode, dateKey[2:], seq)
}
