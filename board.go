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

package main

import (
	"hartirq/machine"
	"hartirq/utils"
)

//
// Board --
//
// What we boot: how many harts, and which devices.
//
type Board struct {
	Harts   int                  `json:"harts"`
	Devices []machine.DeviceInfo `json:"devices"`
}

// DefaultBoard is two harts, a disk and a console.
// An empty disk path gives an in-memory disk.
func DefaultBoard(disk string) *Board {
	data := map[string]interface{}{
		"interrupt": machine.SourceBlock,
	}
	if disk != "" {
		data["path"] = disk
	} else {
		data["sectors"] = 64
	}

	return &Board{
		Harts: 2,
		Devices: []machine.DeviceInfo{
			{
				Name:   "disk0",
				Driver: "block",
				Data:   data,
			},
			{
				Name:   "uart0",
				Driver: "uart",
				Data: map[string]interface{}{
					"interrupt": machine.SourceUart,
				},
			},
		},
	}
}

func LoadBoard(path string) (*Board, error) {
	board := new(Board)
	if err := utils.LoadFile(path, board); err != nil {
		return nil, err
	}
	if board.Harts <= 0 {
		return nil, NoHarts
	}
	return board, nil
}
