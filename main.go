// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Paclink - Panasonic AC serial link bridge
//
// Runs the air conditioner link protocol and exposes the unit over HTTP,
// MQTT and Prometheus, with tools for logging and analyzing raw traffic.

package main

import (
	"os"

	"github.com/Thermoquad/paclink/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
