// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package prompt

import (
	"fmt"
	"strings"
	"time"
)

// Lang is the language posts are written in.
type Lang string

// Supported languages.
const (
	Russian Lang = "ru"
	English Lang = "en"
)

// ParseLang returns Russian for "ru" and English for anything else.
func ParseLang(s string) Lang {
	if strings.EqualFold(strings.TrimSpace(s), string(Russian)) {
		return Russian
	}
	return English
}

// Pick returns ru for Russian and en otherwise.
func (l Lang) Pick(ru, en string) string {
	if l == Russian {
		return ru
	}
	return en
}

var ruMonths = [...]string{
	"января", "февраля", "марта", "апреля", "мая", "июня",
	"июля", "августа", "сентября", "октября", "ноября", "декабря",
}

// Today formats t as a human readable date: "14 марта 2026" or
// "March 14, 2026".
func (l Lang) Today(t time.Time) string {
	if l == Russian {
		return fmt.Sprintf("%d %s %d", t.Day(), ruMonths[t.Month()-1], t.Year())
	}
	return t.Format("January 2, 2006")
}

// dayMonth is like Today, but without the year.
func (l Lang) dayMonth(t time.Time) string {
	if l == Russian {
		return fmt.Sprintf("%d %s", t.Day(), ruMonths[t.Month()-1])
	}
	return t.Format("January 2")
}

// ShortDate formats t the way excerpts of previous posts are labelled.
func (l Lang) ShortDate(t time.Time) string {
	return t.Format(l.Pick("02.01.2006", "2006-01-02"))
}
