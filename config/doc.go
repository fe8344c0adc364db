// Package config loads and validates the sysmonitord configuration.
//
// Configuration is resolved in layers, each overriding the previous one:
//
//  1. Built-in defaults (Default), matching the stock kernel module build:
//     netlink protocol 31, group 1, 32 CPUs, 100 process slots, WebSocket on
//     localhost:8765, 300 history samples.
//  2. Zero or more files added with Loader.AddLayer. Files ending in .yaml or
//     .yml are parsed with gopkg.in/yaml.v3, anything else as JSON. Only the
//     keys present in a file override earlier values; lists are replaced.
//     Durations may be written as strings ("250ms", "5s").
//  3. SYSMON_* environment variables (SYSMON_WS_ADDR, SYSMON_NATS_URLS, ...).
//
// The command line applies flags on top of the loaded Config.
//
// # Usage
//
//	loader := config.NewLoader()
//	loader.AddLayer("/etc/sysmonitord/config.yaml")
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//
// A minimal YAML file:
//
//	input:
//	  layout:
//	    cpus: 8
//	websocket:
//	  addr: 0.0.0.0:8765
//	nats:
//	  enabled: true
//	  urls: [nats://broker:4222]
//
// Validate returns errors classified as invalid (errors.IsInvalid) so callers
// can tell configuration mistakes from runtime failures.
//
// SafeConfig wraps a Config for concurrent readers; Get returns deep copies.
package config
