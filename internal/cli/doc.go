// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the ezy command line.
//
// Commands:
//
//	ezy login [--email] [--session-only] [--watch]
//	ezy register [--name] [--email] [--phone]
//	ezy logout
//	ezy whoami
//	ezy notifications [--unread] | notifications read <id>
//	ezy courses list [--search] [--tag] [--page] | courses show <id> | courses mine
//	ezy courses dashboard            (teachers)
//	ezy enroll <course-id>
//	ezy enrollments
//	ezy requests [--status]          (teachers)
//	ezy approve|decline <enrollment-id> (teachers)
//	ezy config list|get|set|path
//	ezy watch [--metrics-addr] [--duration]   (/metrics and /status)
//	ezy version
//
// Every command accepts --json for machine-readable output, --verbose for
// debug logging and --config to point at a specific file. Errors are
// mapped to exit codes in errors.go.
package cli
