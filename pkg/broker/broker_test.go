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
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/suite"

	"github.com/floeipc/floe/pkg/ipc"
)

type BrokerTestSuite struct {
	suite.Suite
}

func testName(prefix string) string {
	return prefix + "_" + strconv.Itoa(int(rand.Int63()%1000000)) + "_" + strconv.Itoa(time.Now().Nanosecond())
}

func testBrokerConf() *Config {
	conf := DefaultConfig()
	conf.ChannelName = testName("floe_test_broker")
	conf.RecvPollInterval = 20 * time.Millisecond
	conf.MonitorInterval = 25 * time.Millisecond
	conf.KeepAliveTimeout = 150 * time.Millisecond
	return conf
}

// testProcess hand-rolls the process side of the control protocol: a
// reply server channel plus a client channel to the broker.
type testProcess struct {
	name   string
	reply  *ipc.Channel
	broker *ipc.Channel
}

func (s *BrokerTestSuite) startProcess(brokerName string) *testProcess {
	name := testName("floe_test_proc")
	reply, err := ipc.NewChannel(name, ipc.ModeBlocking, ipc.SideServer, 0)
	s.Require().Nil(err)
	brokerCh, err := ipc.NewChannel(brokerName, ipc.ModeBlocking, ipc.SideClient, 0)
	s.Require().Nil(err)
	return &testProcess{name: name, reply: reply, broker: brokerCh}
}

func (p *testProcess) request(s *BrokerTestSuite, entries ...string) []string {
	msg, err := ipc.NewMessage(entries...)
	s.Require().Nil(err)
	s.Require().Nil(p.broker.TimedSend(msg.Encode(), time.Second))
	raw, err := p.reply.TimedReceive(2 * time.Second)
	s.Require().Nil(err)
	parsed, err := ipc.ParseMessage(raw)
	s.Require().Nil(err)
	return parsed.Entries()
}

func (p *testProcess) close(s *BrokerTestSuite) {
	s.Require().Nil(p.broker.Close())
	s.Require().Nil(p.reply.Close())
}

func (s *BrokerTestSuite) TestRegisterPingDeregister() {
	conf := testBrokerConf()
	b, err := New(conf)
	s.Require().Nil(err)
	go func() { _ = b.Serve() }()
	defer func() { s.Require().Nil(b.Close()) }()

	p := s.startProcess(conf.ChannelName)
	defer p.close(s)

	pid := strconv.Itoa(os.Getpid())
	reply := p.request(s, ipc.OpRegister, p.name, pid)
	s.Require().Equal([]string{ipc.OpOK, ipc.OpRegister, p.name}, reply)
	s.Require().True(b.Registered(p.name))
	s.Require().Equal(1, b.ProcessCount())

	ev, err := b.NextEvent(time.Second)
	s.Require().Nil(err)
	s.Require().Equal(EventRegistered, ev.Type)
	s.Require().Equal(p.name, ev.Process)

	reply = p.request(s, ipc.OpPing, p.name)
	s.Require().Equal([]string{ipc.OpPong, p.name}, reply)

	reply = p.request(s, ipc.OpDeregister, p.name)
	s.Require().Equal([]string{ipc.OpOK, ipc.OpDeregister, p.name}, reply)
	s.Require().False(b.Registered(p.name))

	ev, err = b.NextEvent(time.Second)
	s.Require().Nil(err)
	s.Require().Equal(EventDeregistered, ev.Type)

	s.Require().GreaterOrEqual(counterValue(b.metrics.messagesReceived), 3.0)
}

func (s *BrokerTestSuite) TestKeepAliveAndEviction() {
	conf := testBrokerConf()
	b, err := New(conf)
	s.Require().Nil(err)
	go func() { _ = b.Serve() }()
	defer func() { s.Require().Nil(b.Close()) }()

	p := s.startProcess(conf.ChannelName)
	defer p.close(s)

	p.request(s, ipc.OpRegister, p.name, strconv.Itoa(os.Getpid()))
	_, err = b.NextEvent(time.Second)
	s.Require().Nil(err)

	// keepalives hold the registration open past the timeout
	keepAlive, err := ipc.NewMessage(ipc.OpKeepAlive, p.name)
	s.Require().Nil(err)
	for i := 0; i < 4; i++ {
		time.Sleep(50 * time.Millisecond)
		s.Require().Nil(p.broker.TimedSend(keepAlive.Encode(), time.Second))
	}
	s.Require().True(b.Registered(p.name))

	// silence gets the process evicted
	ev, err := b.NextEvent(2 * time.Second)
	s.Require().Nil(err)
	s.Require().Equal(EventEvicted, ev.Type)
	s.Require().Equal(p.name, ev.Process)
	s.Require().False(b.Registered(p.name))
	s.Require().Equal(1.0, counterValue(b.metrics.evictions))
}

func (s *BrokerTestSuite) TestUnknownOperationCounted() {
	conf := testBrokerConf()
	b, err := New(conf)
	s.Require().Nil(err)
	go func() { _ = b.Serve() }()
	defer func() { s.Require().Nil(b.Close()) }()

	p := s.startProcess(conf.ChannelName)
	defer p.close(s)

	msg, err := ipc.NewMessage("BOGUS", p.name)
	s.Require().Nil(err)
	s.Require().Nil(p.broker.TimedSend(msg.Encode(), time.Second))

	s.Require().Eventually(func() bool {
		return counterValue(b.metrics.dispatchErrors) >= 1.0
	}, 2*time.Second, 20*time.Millisecond)
}

func (s *BrokerTestSuite) TestHealthHandler() {
	conf := testBrokerConf()
	b, err := New(conf)
	s.Require().Nil(err)
	defer func() { s.Require().Nil(b.Close()) }()

	h := b.HealthHandler()
	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	rec := httptest.NewRecorder()
	h.LiveEndpoint(rec, req)
	s.Require().Equal(http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec = httptest.NewRecorder()
	h.ReadyEndpoint(rec, req)
	s.Require().Equal(http.StatusOK, rec.Code)
}

func (s *BrokerTestSuite) TestServeStopsOnClose() {
	conf := testBrokerConf()
	b, err := New(conf)
	s.Require().Nil(err)

	served := make(chan error, 1)
	go func() { served <- b.Serve() }()
	time.Sleep(50 * time.Millisecond)
	s.Require().Nil(b.Close())

	select {
	case serr := <-served:
		s.Require().Nil(serr)
	case <-time.After(2 * time.Second):
		s.FailNow("Serve did not return after Close")
	}
	// closing again is a no-op
	s.Require().Nil(b.Close())
}

func TestBrokerTestSuite(t *testing.T) {
	suite.Run(t, new(BrokerTestSuite))
}

func TestVerifyConfig(t *testing.T) {
	s := func(c *Config) error { return VerifyConfig(c) }

	if err := s(nil); err == nil {
		t.Fatal("nil config accepted")
	}
	conf := DefaultConfig()
	conf.ChannelName = ""
	if err := s(conf); err == nil {
		t.Fatal("empty channel name accepted")
	}
	conf = DefaultConfig()
	conf.PoolSize = 0
	if err := s(conf); err == nil {
		t.Fatal("zero pool size accepted")
	}
	conf = DefaultConfig()
	conf.MonitorInterval = conf.KeepAliveTimeout * 2
	if err := s(conf); err == nil {
		t.Fatal("monitor interval above keepalive timeout accepted")
	}
	conf = DefaultConfig()
	conf.Registry = nil
	if err := s(conf); err == nil {
		t.Fatal("nil registry accepted")
	}
	if err := s(DefaultConfig()); err != nil {
		t.Fatalf("default config rejected: %v", err)
	}
}

// counterValue reads a prometheus counter for assertions.
func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	_ = c.Write(m)
	return m.GetCounter().GetValue()
}
