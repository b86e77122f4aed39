// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

/*
Package config loads callsync configuration with Koanf v2.

Layers, lowest priority first:

 1. Struct defaults (defaultConfig)
 2. YAML file: CONFIG_PATH, ./config.yaml or /etc/callsync/config.yaml
 3. Environment variables, mapped explicitly by envTransformFunc

Example config.yaml:

	backend:
	  url: https://xsi.example.com
	  feed: combined
	  time_zone: Europe/London
	sync:
	  interval: 30m
	phone:
	  default_region: GB
	directory:
	  static:
	    "+442071234567": Reception

Only BACKEND_URL is required. DIRECTORY_STATIC accepts "number=name,number=name".
*/
package config
