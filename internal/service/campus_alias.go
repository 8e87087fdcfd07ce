package service

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Canonical campus names as stored in the campuses table.
const (
	CampusRoquette       = "Roquette"
	CampusJaures         = "Jaurès"
	CampusPicpus         = "Picpus"
	CampusSentier        = "Sentier"
	CampusDouai          = "Douai"
	CampusSaintSebastien = "Saint-Sébastien"
	CampusNice           = "Nice"
	CampusMarseille      = "Marseille"
)

// campusAliases maps spellings found in spreadsheets to the canonical name. Keys are folded.
var campusAliases = map[string]string{
	"ROQ":          CampusRoquette,
	"JAU":          CampusJaures,
	"JEAN JAURES":  CampusJaures,
	"PIC":          CampusPicpus,
	"SEN":          CampusSentier,
	"DOU":          CampusDouai,
	"ST SEBASTIEN": CampusSaintSebastien,
	"ST SEB":       CampusSaintSebastien,
	"SAINT SEB":    CampusSaintSebastien,
	"SSB":          CampusSaintSebastien,
	"NIC":          CampusNice,
	"MRS":          CampusMarseille,
	"MARSEILLES":   CampusMarseille,
}

func init() {
	for _, name := range []string{
		CampusRoquette, CampusJaures, CampusPicpus, CampusSentier,
		CampusDouai, CampusSaintSebastien, CampusNice, CampusMarseille,
	} {
		campusAliases[foldCampus(name)] = name
	}
}

// foldCampus strips accents, upper-cases, turns separators into spaces and drops the
// city or "campus" prefix so that "Paris - Jaurès" and "JAURES" fold identically.
func foldCampus(raw string) string {
	// Chains keep state, so each call builds its own.
	stripAccents := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, err := transform.String(stripAccents, raw)
	if err != nil {
		s = raw
	}
	s = strings.ToUpper(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '-', '_', '.', '\'', '/':
			return ' '
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")
	for _, prefix := range []string{"CAMPUS ", "PARIS "} {
		s = strings.TrimPrefix(s, prefix)
	}
	return s
}

// NormalizeCampusName returns the canonical campus name for raw and whether it is known.
func NormalizeCampusName(raw string) (string, bool) {
	folded := foldCampus(raw)
	if folded == "" {
		return "", false
	}
	name, ok := campusAliases[folded]
	return name, ok
}

// SplitCampusCell splits a comma separated campus cell into trimmed, non-empty names.
func SplitCampusCell(cell string) []string {
	var out []string
	for _, part := range strings.Split(cell, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
