//go:build tinygo || wasm

package host

import "unsafe"

// Log forwards text to the host log when the manifest grants log:write.
func Log(msg string) {
	call(msg, hostLog)
}

// Speak sets the output speech of the response.
func Speak(text string) {
	call(text, hostSpeak)
}

// Reprompt sets the reprompt and keeps the session open.
func Reprompt(text string) {
	call(text, hostReprompt)
}

func call(s string, fn func(unsafe.Pointer, uint32)) {
	if len(s) == 0 {
		return
	}
	b := []byte(s)
	fn(unsafe.Pointer(&b[0]), uint32(len(b)))
}

//go:wasmimport env host_log
func hostLog(ptr unsafe.Pointer, length uint32)

//go:wasmimport env host_speak
func hostSpeak(ptr unsafe.Pointer, length uint32)

//go:wasmimport env host_reprompt
func hostReprompt(ptr unsafe.Pointer, length uint32)
