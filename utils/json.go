// Copyright 2014 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// NewDecoder returns a decoder that keeps numbers as json.Number, so
// device data survives a round trip through interface{} untouched.
func NewDecoder(reader io.Reader) *json.Decoder {
	decoder := json.NewDecoder(reader)
	decoder.UseNumber()
	return decoder
}

func NewEncoder(writer io.Writer) *json.Encoder {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder
}

// LoadFile decodes the JSON document at path into value.
func LoadFile(path string, value interface{}) error {

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	// Decode the single document.
	err = NewDecoder(file).Decode(value)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}

	// We're okay.
	return nil
}
