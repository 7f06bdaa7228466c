package command

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"gopcast/internal/amf"
)

// ConnectParams is the command object of a connect request. Clients disagree
// on value types, so it is decoded weakly and unknown properties are ignored.
type ConnectParams struct {
	App            string  `mapstructure:"app"`
	FlashVer       string  `mapstructure:"flashVer"`
	SwfURL         string  `mapstructure:"swfUrl"`
	TcURL          string  `mapstructure:"tcUrl"`
	PageURL        string  `mapstructure:"pageUrl"`
	Type           string  `mapstructure:"type"`
	FPad           bool    `mapstructure:"fpad"`
	Capabilities   float64 `mapstructure:"capabilities"`
	AudioCodecs    float64 `mapstructure:"audioCodecs"`
	VideoCodecs    float64 `mapstructure:"videoCodecs"`
	VideoFunction  float64 `mapstructure:"videoFunction"`
	ObjectEncoding float64 `mapstructure:"objectEncoding"`
}

// parseConnectParams decodes the first object among vals. A connect without
// one yields zero params.
func parseConnectParams(vals []amf.Value) (ConnectParams, error) {
	var p ConnectParams
	v, ok := amf.FirstOf(vals, amf.KindObject)
	if !ok {
		return p, nil
	}
	if err := mapstructure.WeakDecode(v.(*amf.Object).Map(), &p); err != nil {
		return p, fmt.Errorf("decode connect object: %w", err)
	}
	p.App = strings.TrimSuffix(stripQuery(p.App), "/")
	return p, nil
}

// stripQuery drops everything from the first '?' on.
func stripQuery(name string) string {
	if i := strings.IndexByte(name, '?'); i >= 0 {
		return name[:i]
	}
	return name
}

// transactionID returns the first number among vals, or 0.
func transactionID(vals []amf.Value) float64 {
	if v, ok := amf.FirstOf(vals, amf.KindNumber); ok {
		return float64(v.(amf.Number))
	}
	return 0
}

// stringAt returns vals[i] when it is tagged as a string.
func stringAt(vals []amf.Value, i int) (string, bool) {
	if i >= len(vals) {
		return "", false
	}
	s, ok := vals[i].(amf.String)
	return string(s), ok
}
