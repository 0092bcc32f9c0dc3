//----------------------------------------------------------------------
// This file is part of wifista.
// Copyright (C) 2024-present Bernd Fix   >Y<
//
// wifista is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// wifista is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later
//----------------------------------------------------------------------

package wifista

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompletionSignalOnce(t *testing.T) {
	c := NewCompletion()
	assert.False(t, c.Fired())

	var won atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o := Outcome{Status: Connected}
			if i%2 == 1 {
				o.Status = Failed
			}
			if c.Signal(o) {
				won.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), won.Load())
	assert.Equal(t, 16, c.Raised())
	assert.True(t, c.Fired())

	o1, err := c.Wait(context.Background())
	require.NoError(t, err)
	o2, err := c.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, o1, o2)
}

func TestCompletionWaitContext(t *testing.T) {
	c := NewCompletion()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := c.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// signal after a timed-out wait is still delivered
	assert.True(t, c.Signal(Outcome{Status: Failed}))
	o, err := c.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Failed, o.Status)
}
