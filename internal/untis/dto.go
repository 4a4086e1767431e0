package untis

import (
	"fmt"
	"time"

	"github.com/ralle12345/untiswatch/internal/model"
)

// periodDTO is the wire shape of one timetable period as returned by
// getTimetable.
type periodDTO struct {
	ID        int64  `json:"id"`
	Date      int    `json:"date"`      // yyyymmdd
	StartTime int    `json:"startTime"` // hhmm
	EndTime   int    `json:"endTime"`   // hhmm
	Code      string `json:"code,omitempty"`
	Type      string `json:"lstype,omitempty"`

	Subjects []elementDTO `json:"su"`
	Rooms    []elementDTO `json:"ro"`
	Teachers []elementDTO `json:"te"`
	Klassen  []elementDTO `json:"kl"`

	InfoText         string `json:"lstext,omitempty"`
	SubstitutionText string `json:"substText,omitempty"`
	LessonNumber     int64  `json:"lsnumber,omitempty"`
}

// elementDTO is a referenced entity within a period. For substituted rooms
// and teachers the backend carries the original entity in the org fields.
type elementDTO struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	LongName string `json:"longname"`
	OrgID    int64  `json:"orgid,omitempty"`
	OrgName  string `json:"orgname,omitempty"`
}

// toLesson converts a wire period into the normalized lesson model.
func (p periodDTO) toLesson(loc *time.Location) (model.Lesson, error) {
	start, err := untisTime(p.Date, p.StartTime, loc)
	if err != nil {
		return model.Lesson{}, fmt.Errorf("period %d: %w", p.ID, err)
	}
	end, err := untisTime(p.Date, p.EndTime, loc)
	if err != nil {
		return model.Lesson{}, fmt.Errorf("period %d: %w", p.ID, err)
	}

	l := model.Lesson{
		Start:            start,
		End:              end,
		ID:               p.ID,
		LessonNumber:     p.LessonNumber,
		Code:             model.ParseCode(p.Code),
		Type:             p.Type,
		InfoText:         p.InfoText,
		SubstitutionText: p.SubstitutionText,
	}

	for _, e := range p.Subjects {
		l.Subjects = append(l.Subjects, model.Subject{
			Named: model.Named{Name: e.Name, LongName: e.LongName},
			ID:    e.ID,
		})
	}
	l.Rooms, l.OriginalRooms = splitOriginals(p.Rooms)
	l.Teachers, l.OriginalTeachers = splitOriginals(p.Teachers)
	for _, e := range p.Klassen {
		l.Klassen = append(l.Klassen, model.Named{Name: e.Name, LongName: e.LongName})
	}

	return l, nil
}

// splitOriginals separates current entities from the pre-substitution
// originals the backend attaches via org fields.
func splitOriginals(elems []elementDTO) (current, original []model.Named) {
	for _, e := range elems {
		if e.Name != "" {
			current = append(current, model.Named{Name: e.Name, LongName: e.LongName})
		}
		if e.OrgName != "" {
			original = append(original, model.Named{Name: e.OrgName})
		}
	}
	return current, original
}

// untisTime combines the backend's yyyymmdd date and hhmm time integers.
func untisTime(date, hhmm int, loc *time.Location) (time.Time, error) {
	if date <= 0 {
		return time.Time{}, fmt.Errorf("invalid date %d", date)
	}
	year := date / 10000
	month := (date / 100) % 100
	day := date % 100
	hour := hhmm / 100
	minute := hhmm % 100
	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 {
		return time.Time{}, fmt.Errorf("invalid date/time %d %04d", date, hhmm)
	}
	return time.Date(year, time.Month(month), day, hour, minute, 0, 0, loc), nil
}

// untisDate renders a date as the backend's yyyymmdd integer.
func untisDate(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}
