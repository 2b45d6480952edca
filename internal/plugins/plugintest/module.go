// Package plugintest assembles tiny WebAssembly modules that drive the
// plugin host functions, so plugin tests run without a wasm toolchain.
package plugintest

// Call makes the module pass Text to the named env host function.
type Call struct {
	Function string
	Text     string
}

// Module returns a wasm binary exporting memory and a no-argument entry
// function that performs calls in order.
func Module(entry string, calls ...Call) []byte {
	var imports []string
	index := make(map[string]int)
	for _, c := range calls {
		if _, ok := index[c.Function]; !ok {
			index[c.Function] = len(imports)
			imports = append(imports, c.Function)
		}
	}

	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	// type 0: (i32, i32) -> (); type 1: () -> ()
	out = append(out, section(1, []byte{0x02, 0x60, 0x02, 0x7f, 0x7f, 0x00, 0x60, 0x00, 0x00})...)

	if len(imports) > 0 {
		content := uleb(uint32(len(imports)))
		for _, name := range imports {
			content = append(content, str("env")...)
			content = append(content, str(name)...)
			content = append(content, 0x00, 0x00)
		}
		out = append(out, section(2, content)...)
	}

	out = append(out, section(3, []byte{0x01, 0x01})...)
	out = append(out, section(5, []byte{0x01, 0x00, 0x01})...)

	exports := uleb(2)
	exports = append(exports, str("memory")...)
	exports = append(exports, 0x02, 0x00)
	exports = append(exports, str(entry)...)
	exports = append(exports, 0x00)
	exports = append(exports, uleb(uint32(len(imports)))...)
	out = append(out, section(7, exports)...)

	body := []byte{0x00}
	var data []byte
	offset := uint32(0)
	segments := 0
	for _, c := range calls {
		length := uint32(len(c.Text))
		body = append(body, 0x41)
		body = append(body, sleb(int32(offset))...)
		body = append(body, 0x41)
		body = append(body, sleb(int32(length))...)
		body = append(body, 0x10)
		body = append(body, uleb(uint32(index[c.Function]))...)
		if length > 0 {
			data = append(data, 0x00, 0x41)
			data = append(data, sleb(int32(offset))...)
			data = append(data, 0x0b)
			data = append(data, uleb(length)...)
			data = append(data, c.Text...)
			segments++
		}
		offset += length
	}
	body = append(body, 0x0b)
	code := uleb(1)
	code = append(code, uleb(uint32(len(body)))...)
	code = append(code, body...)
	out = append(out, section(10, code)...)

	if segments > 0 {
		out = append(out, section(11, append(uleb(uint32(segments)), data...))...)
	}
	return out
}

func section(id byte, content []byte) []byte {
	out := append([]byte{id}, uleb(uint32(len(content)))...)
	return append(out, content...)
}

func str(s string) []byte {
	return append(uleb(uint32(len(s))), s...)
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func sleb(v int32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}
