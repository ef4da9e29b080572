// Package cron parses the cron expressions of scheduled triggers.
package cron

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrInvalidExpression = errors.New("invalid cron expression")
	ErrInvalidTimezone   = errors.New("invalid timezone")
)

// Parser accepts standard five-field expressions and descriptors such as
// @hourly, @daily and @every 5m.
type Parser struct {
	spec cron.Parser
}

func NewParser() *Parser {
	return &Parser{
		spec: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Parse compiles expression, evaluated in timezone. An empty timezone means UTC.
func (p *Parser) Parse(expression string, timezone string) (Schedule, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidTimezone, timezone, err)
	}

	compiled, err := p.spec.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidExpression, expression, err)
	}
	return &locatedSchedule{compiled: compiled, loc: loc}, nil
}

// Schedule yields successive fire times.
type Schedule interface {
	// Next returns the first fire time strictly after after, in UTC.
	Next(after time.Time) time.Time
}

type locatedSchedule struct {
	compiled cron.Schedule
	loc      *time.Location
}

func (s *locatedSchedule) Next(after time.Time) time.Time {
	next := s.compiled.Next(after.In(s.loc))
	if next.IsZero() {
		return next
	}
	return next.UTC()
}
