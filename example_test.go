package sockett_test

import (
	"fmt"
	"time"

	"github.com/sockett/sockett.go"
	"github.com/sockett/sockett.go/pkg/logger"
	"github.com/sockett/sockett.go/pkg/transport"
	"github.com/sockett/sockett.go/pkg/transport/transporttest"
)

func ExampleNew() {
	dialer := transporttest.NewDialer()

	socket, err := sockett.New("ws://localhost:8080/feed",
		sockett.WithDialer(dialer),
		sockett.WithLogger(logger.Discard()),
		sockett.OnEvent(sockett.EventOpen, func(transport.Event) {
			fmt.Println("open")
		}),
		sockett.OnEvent(sockett.EventMessage, func(ev transport.Event) {
			fmt.Println("message:", ev.(*transport.MessageEvent).Message)
		}),
	)
	if err != nil {
		panic(err)
	}

	// Buffered until the transport opens.
	if err := socket.JSON(map[string]string{"op": "subscribe"}); err != nil {
		panic(err)
	}

	fake := <-dialer.Dialed()
	fake.Open()
	fake.Receive(transport.Text(`{"op":"subscribed"}`))

	fmt.Println("sent:", fake.SentText())

	// Output:
	// open
	// message: {"op":"subscribed"}
	// sent: [{"op":"subscribe"}]
}

func ExampleSocket_Close() {
	dialer := transporttest.NewDialer()

	socket, err := sockett.New("ws://localhost:8080/feed",
		sockett.WithDialer(dialer),
		sockett.WithLogger(logger.Discard()),
		sockett.WithReconnectDelay(10*time.Millisecond),
		sockett.OnEvent(sockett.EventClose, func(ev transport.Event) {
			fmt.Println("close:", ev.(*transport.CloseEvent).Code)
		}),
		sockett.OnEvent(sockett.EventMaximum, func(transport.Event) {
			fmt.Println("no more reconnections")
		}),
	)
	if err != nil {
		panic(err)
	}

	fake := <-dialer.Dialed()
	fake.Open()

	if err := socket.Close(1000, "bye"); err != nil {
		panic(err)
	}
	fake.Drop(1000, "bye")

	fmt.Println("transports dialed:", dialer.Count())

	// Output:
	// no more reconnections
	// close: 1000
	// transports dialed: 1
}

func ExampleWithRetryer() {
	retryer := sockett.NewExponentialBackoffRetryer()
	retryer.InitialDelay = 500 * time.Millisecond
	retryer.MaxDelay = 10 * time.Second
	retryer.Jitter = false

	_, err := sockett.New("ws://localhost:8080/feed",
		sockett.WithDialer(transporttest.NewDialer()),
		sockett.WithLogger(logger.Discard()),
		sockett.WithRetryer(retryer),
		sockett.WithMaxAttempts(10),
	)
	if err != nil {
		panic(err)
	}

	for attempt := 0; attempt < 6; attempt++ {
		delay, _ := retryer.NextDelay(attempt, nil)
		fmt.Println(delay)
	}

	// Output:
	// 500ms
	// 1s
	// 2s
	// 4s
	// 8s
	// 10s
}
