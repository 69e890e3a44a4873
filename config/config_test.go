package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	conf := Default()

	require.NotNil(t, conf.Selected)
	assert.Equal(t, "arduino", conf.Selected.Name)
	assert.Equal(t, SourceSerial, conf.Selected.Source)
	assert.Equal(t, 115200, conf.Selected.Baud)
	require.Len(t, conf.Channels, 1)
	assert.Equal(t, "finger", conf.Channels[0].Name)
	assert.Equal(t, 550, conf.Channels[0].Threshold)
	assert.Equal(t, "pulse.beat", conf.Telemetry.NATSSubject)
}

func TestSelectBoard(t *testing.T) {
	conf := Default()

	require.NoError(t, conf.Select("simulator"))
	assert.Equal(t, SourceSynthetic, conf.Selected.Source)
	assert.Equal(t, 750, conf.Selected.PeriodMs)
	require.Len(t, conf.Channels, 2)
	assert.Equal(t, 1, conf.Channels[1].Column)

	require.NoError(t, conf.Select("usb-adc"))
	assert.Equal(t, 0x1209, conf.Selected.VID)
	assert.Equal(t, 0x81, conf.Selected.Endpoint)

	require.NoError(t, conf.Select("flatline"))
	assert.Equal(t, SourceConstant, conf.Selected.Source)
	assert.Equal(t, 512, conf.Selected.Level)

	require.Error(t, conf.Select("missing"))
}

func TestInitializeCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")

	conf, err := Initialize(path)
	require.NoError(t, err)
	assert.Equal(t, "arduino", conf.Default)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, defaultConfigData, data)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"missing default", `
[[board]]
name = "a"
source = "serial"
channels = ["c"]
[[channel]]
name = "c"
`},
		{"unknown board", `
default = "b"
[[board]]
name = "a"
source = "serial"
channels = ["c"]
[[channel]]
name = "c"
`},
		{"unknown source", `
default = "a"
[[board]]
name = "a"
source = "bluetooth"
channels = ["c"]
[[channel]]
name = "c"
`},
		{"no channels", `
default = "a"
[[board]]
name = "a"
source = "serial"
`},
		{"undefined channel", `
default = "a"
[[board]]
name = "a"
source = "serial"
channels = ["c", "d"]
[[channel]]
name = "c"
`},
		{"threshold out of range", `
default = "a"
[[board]]
name = "a"
source = "serial"
channels = ["c"]
[[channel]]
name = "c"
threshold = 2000
`},
		{"negative column", `
default = "a"
[[board]]
name = "a"
source = "serial"
channels = ["c"]
[[channel]]
name = "c"
column = -1
`},
		{"bad synthetic shape", `
default = "a"
[[board]]
name = "a"
source = "synthetic"
period_ms = 500
high_ms = 600
channels = ["c"]
[[channel]]
name = "c"
`},
		{"constant level out of range", `
default = "a"
[[board]]
name = "a"
source = "constant"
level = 1024
channels = ["c"]
[[channel]]
name = "c"
`},
		{"edf without file", `
default = "a"
[[board]]
name = "a"
source = "edf"
channels = ["c"]
[[channel]]
name = "c"
`},
		{"usb without id", `
default = "a"
[[board]]
name = "a"
source = "usb"
channels = ["c"]
[[channel]]
name = "c"
`},
		{"bad toml", `default = `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text)
			assert.Error(t, err)
		})
	}
}
