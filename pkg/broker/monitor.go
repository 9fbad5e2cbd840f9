/*
 * Copyright 2026 Floe Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package broker

import (
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// monitorLoop sweeps the registry and evicts processes that stopped
// sending keepalives or whose PID is gone. A crashed process never
// deregisters, the sweep is what reclaims its registry slot.
func (b *Broker) monitorLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.conf.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.sweep()
		}
	}
}

func (b *Broker) sweep() {
	deadline := time.Now().Add(-b.conf.KeepAliveTimeout).UnixNano()
	for name, p := range b.registry.Items() {
		stale := p.lastSeen.Load() < deadline
		if !stale && pidAlive(p.pid) {
			continue
		}
		b.registry.Remove(name)
		b.metrics.evicted()
		b.metrics.setRegistered(b.registry.Count())
		b.dropProcess(p, EventEvicted)
		internalLogger.Infof("broker %q: evicted process %q (pid %d, stale=%v)",
			b.conf.ChannelName, name, p.pid, stale)
	}
}

func pidAlive(pid int32) bool {
	ok, err := process.PidExists(pid)
	return err != nil || ok
}
