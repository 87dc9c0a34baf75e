// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package connstore

import "errors"

// ErrStoreFull is returned by Put when the store is at capacity and no
// entry is stale enough to evict (RFC 6347 §4.2.8: the handshake
// attempt is silently abandoned, not alerted).
var ErrStoreFull = errors.New("connstore: store is full and no entry is stale enough to evict")
