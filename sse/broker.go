/*
The MIT License (MIT)

Copyright (c) 2017-2021 Ismael Celis and contributors

Permission is hereby granted, free of charge, to any person obtaining a copy of
this software and associated documentation files (the "Software"), to deal in
the Software without restriction, including without limitation the rights to
use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
the Software, and to permit persons to whom the Software is furnished to do so,
subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
*/

package sse

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kuttab/polls/logging"
	"github.com/sirupsen/logrus"
)

const patience time.Duration = time.Second * 1

type (
	NotificationEvent struct {
		EventName string
		Payload   interface{}
	}

	NotifierChan chan NotificationEvent

	subscription struct {
		topic string
		ch    NotifierChan
	}

	Broker struct {

		// Events are pushed to this channel by the main events-gathering routine
		Notifier NotifierChan

		// New client connections
		newClients chan subscription

		// Closed client connections
		closingClients chan subscription

		// Client connections registry, by topic
		clients map[string]map[NotifierChan]struct{}

		// Closed when Listen returns
		done chan struct{}
	}
)

func NewBroker() (broker *Broker) {
	// Instantiate a broker
	return &Broker{
		Notifier:       make(NotifierChan, 16),
		newClients:     make(chan subscription),
		closingClients: make(chan subscription),
		clients:        make(map[string]map[NotifierChan]struct{}),
		done:           make(chan struct{}),
	}
}

// Publish queues an event for the subscribers of topic. It gives up after
// the patience window so a stalled broker never blocks a request.
func (broker *Broker) Publish(topic string, payload interface{}) {
	select {
	case broker.Notifier <- NotificationEvent{EventName: topic, Payload: payload}:
	case <-time.After(patience):
		logging.Logger.WithFields(logrus.Fields{"module": "sse", "method": "Publish", "topic": topic}).Warn("dropping event, broker is not keeping up")
	}
}

// Handler streams events for the topic named by the given route parameter.
func (broker *Broker) Handler(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		broker.Serve(c, c.Param(param))
	}
}

// Serve streams events for topic until the client goes away or the broker
// stops.
func (broker *Broker) Serve(c *gin.Context, topic string) {
	// Each connection registers its own message channel with the Broker's connections registry
	sub := subscription{topic: topic, ch: make(NotifierChan)}

	// Signal the broker that we have a new connection
	select {
	case broker.newClients <- sub:
	case <-broker.done:
		return
	}

	// Remove this client from the map of connected clients
	// when this handler exits.
	defer func() {
		select {
		case broker.closingClients <- sub:
		case <-broker.done:
		}
	}()

	// Send the headers now so clients see the stream open before the
	// first event.
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	done := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		// Emit Server Sent Events compatible
		select {
		case event := <-sub.ch:
			c.SSEvent(event.EventName, event.Payload)
		case <-done:
			return false
		case <-broker.done:
			return false
		}

		// Flush the data immediately instead of buffering it for later.
		c.Writer.Flush()

		return true
	})
}

// Listen for new notifications and redistribute them to clients until ctx is done
func (broker *Broker) Listen(ctx context.Context) {
	log := logging.Logger.WithFields(logrus.Fields{"module": "sse", "method": "Listen"})
	defer close(broker.done)
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-broker.newClients:

			// A new client has connected.
			// Register their message channel
			if broker.clients[s.topic] == nil {
				broker.clients[s.topic] = make(map[NotifierChan]struct{})
			}
			broker.clients[s.topic][s.ch] = struct{}{}
			log.WithField("topic", s.topic).Debugf("Client added. %d registered clients", len(broker.clients[s.topic]))
		case s := <-broker.closingClients:

			// A client has dettached and we want to
			// stop sending them messages.
			delete(broker.clients[s.topic], s.ch)
			if len(broker.clients[s.topic]) == 0 {
				delete(broker.clients, s.topic)
			}
			log.WithField("topic", s.topic).Debug("Removed client")
		case event := <-broker.Notifier:

			// We got a new event from the outside!
			// Send event to the clients of its topic
			for clientMessageChan := range broker.clients[event.EventName] {
				select {
				case clientMessageChan <- event:
				case <-time.After(patience):
					log.WithField("topic", event.EventName).Info("Skipping client.")
				}
			}
		}
	}
}
