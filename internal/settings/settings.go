// Package settings persists the operator-tunable knobs in
// Settings.xml next to the executable. The database password is
// deliberately absent: it is supplied at startup and lives in memory
// only.
package settings

import (
	"encoding/xml"

	"github.com/scada-tools/datadiode/internal/pkg/cfgfile"
)

type Settings struct {
	XMLName xml.Name `xml:"Settings"`

	// GatherInterval is the poll interval in milliseconds.
	GatherInterval int    `xml:"gatherInterval,attr"`
	DBURL          string `xml:"dbURL,attr"`
	DBUsername     string `xml:"dbUsername,attr"`
}

const DefaultGatherInterval = 1000

var file = cfgfile.New("Settings.xml",
	func(in interface{}) ([]byte, error) {
		return xml.MarshalIndent(in, "", "\t")
	},
	xml.Unmarshal)

// Load reads Settings.xml, creating it with defaults on first run.
func Load() (Settings, error) {
	s := Settings{GatherInterval: DefaultGatherInterval}
	if !file.Exists() {
		return s, file.Set(s)
	}
	if err := file.Get(&s); err != nil {
		return s, err
	}
	if s.GatherInterval <= 0 {
		s.GatherInterval = DefaultGatherInterval
	}
	return s, nil
}

// Save writes the settings back to Settings.xml.
func Save(s Settings) error {
	return file.Set(s)
}
