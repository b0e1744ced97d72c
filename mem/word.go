/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package mem

import "encoding/binary"

// LoadWord reinterprets the WordSize bytes of b at offset i as an address.
// This is the only place raw bytes become an address; b must hold at least
// i+WordSize bytes.
func LoadWord(b []byte, i int) Addr {
	return Addr(binary.LittleEndian.Uint64(b[i:]))
}

// StoreWord writes v as WordSize little-endian bytes at offset i of b.
func StoreWord(b []byte, i int, v Addr) {
	binary.LittleEndian.PutUint64(b[i:], uint64(v))
}
