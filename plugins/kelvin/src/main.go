//go:build tinygo || wasm

// Command kelvin answers ConvertCelsiusToKelvinIntent.
//
//	tinygo build -o build/kelvin.wasm -target wasi -tags tinygo ./src
package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/loqalabs/convertidor/internal/convert"
	"github.com/loqalabs/convertidor/plugins/internal/host"
)

type envelope struct {
	Request struct {
		Locale string `json:"locale"`
		Intent struct {
			Slots map[string]struct {
				Value string `json:"value"`
			} `json:"slots"`
		} `json:"intent"`
	} `json:"request"`
}

//export run
func run() {
	raw := os.Getenv("CONVERTIDOR_REQUEST")
	if raw == "" {
		host.Log("no request supplied")
		return
	}
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		host.Log("failed to parse request: " + err.Error())
		return
	}

	celsius, err := convert.ParseDegrees(env.Request.Intent.Slots["gradosCelsius"].Value)
	if err != nil {
		host.Log("invalid celsius slot: " + err.Error())
		return
	}
	kelvin := convert.FormatDegrees(celsius + 273.15)
	input := strings.TrimSpace(env.Request.Intent.Slots["gradosCelsius"].Value)

	if strings.HasPrefix(env.Request.Locale, "es") {
		host.Speak("Vite, " + input + " grados Celsius equivalen a " + kelvin + " kelvin.")
		return
	}
	host.Speak("Vite, " + input + " degrees Celsius are " + kelvin + " kelvin.")
}

func main() {}
