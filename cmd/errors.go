// SPDX-License-Identifier: Apache-2.0

package cmd

import "errors"

var errHiddenQueryRequired = errors.New("pgunmask: --hidden-query (or PGUNMASK_HIDDEN_QUERY) is required")
