// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Daniel Pfrommer

package insteon

// Encode serializes a message to wire format: STX, command number, then
// the definition's fields in declaration order. Unset fields encode as
// zeroes.
func Encode(m *Message) []byte {
	def := m.Def()
	buf := make([]byte, 0, 2+def.PayloadSize())
	buf = append(buf, STX, def.Number)
	for _, f := range def.Fields {
		switch f.Type {
		case FieldAddress:
			a, _ := m.values[f.Name].(Address)
			buf = append(buf, a.Bytes()...)
		default:
			b, _ := m.values[f.Name].(byte)
			buf = append(buf, b)
		}
	}
	return buf
}
