// Copyright 2026 The gVisor Authors.
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

package kernel

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"thcore.dev/thcore/pkg/log"
	"thcore.dev/thcore/pkg/ring0"
)

// bootStackPoll is how often StartSecondaries checks whether a core has
// taken its boot stack.
const bootStackPoll = 100 * time.Microsecond

// StartSecondaries brings up the configured secondary cores and waits until
// all of them are online or ctx is done.
//
// Cores are released one at a time: a boot stack is published, and the next
// core is only started once the previous one has taken it.
func (k *Kernel) StartSecondaries(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for id := 1; id < len(k.cpus); id++ {
		stack := make([]byte, k.conf.Platform.KernelStackSize)
		k.mu.Lock()
		k.bootStacks = append(k.bootStacks, stack)
		k.mu.Unlock()
		k.r0.PublishSecondaryStack(stackTop(stack))
		log.Debugf("Starting CPU %d", id)
		k.platform.StartCPU(id, func() { k.bootSecondary(id) })
		if err := k.waitStackTaken(ctx); err != nil {
			return fmt.Errorf("CPU %d did not take its boot stack: %w", id, err)
		}
		online := k.online[id]
		g.Go(func() error {
			select {
			case <-online:
				return nil
			case <-ctx.Done():
				return fmt.Errorf("CPU %d: %w", id, ctx.Err())
			}
		})
	}
	return g.Wait()
}

func (k *Kernel) bootSecondary(id int) {
	ring0.BootSecondary(k.platform.Machine(id), k.bt, k.bootParams(nil))
}

// waitStackTaken waits until the published boot stack has been consumed.
func (k *Kernel) waitStackTaken(ctx context.Context) error {
	tick := time.NewTicker(bootStackPoll)
	defer tick.Stop()
	for k.r0.SecondaryStack() != 0 {
		select {
		case <-tick.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Online returns a channel closed once core id is initialized.
func (k *Kernel) Online(id int) <-chan struct{} {
	return k.online[id]
}
