// Package ir provides the wire records exchanged between asyncstore and a
// storage backend.
//
// This package contains type definitions and their encodings only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Correlation ids are int64 and strictly increasing per engine
//   - Completion records use snake_case JSON tags and omit absent fields
//   - Binary values travel as standard base64 text (the completion channel is text-only)
//   - Store names and keys are NFC normalized before reaching a backend
package ir
