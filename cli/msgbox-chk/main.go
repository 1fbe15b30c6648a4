package main

import (
	"time"

	"github.com/sagernet/msgbox"
	"github.com/sagernet/sing/common/buf"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	command := &cobra.Command{
		Use:  "msgbox-chk udp://address:port",
		Args: cobra.ExactArgs(1),
		Run:  run,
	}
	if err := command.Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func run(cmd *cobra.Command, args []string) {
	address := args[0]
	reactor := msgbox.New(msgbox.Options{})
	var done bool

	reactor.Listen(address, nil, func(conn *msgbox.Conn, event msgbox.Event, data *buf.Buffer) {
		switch event {
		case msgbox.EventListening:
			logrus.Info("listening on ", address)
		case msgbox.EventConnectionReady:
			logrus.Info("peer ready: ", conn.RemoteAddr())
		case msgbox.EventMessage:
			logrus.Info("received: ", string(data.Bytes()))
			echo := msgbox.NewDataString(string(data.Bytes()))
			if err := conn.Send(echo); err != nil {
				logrus.Fatal("echo: ", err)
			}
			echo.Release()
		case msgbox.EventError:
			logrus.Fatal("listener: ", string(data.Bytes()))
		}
	})

	reactor.Connect(address, nil, func(conn *msgbox.Conn, event msgbox.Event, data *buf.Buffer) {
		switch event {
		case msgbox.EventConnectionReady:
			ping := msgbox.NewDataString("msgbox-chk")
			if err := conn.Send(ping); err != nil {
				logrus.Fatal("send: ", err)
			}
			ping.Release()
		case msgbox.EventMessage:
			logrus.Info("echo received: ", string(data.Bytes()))
			done = true
		case msgbox.EventError:
			logrus.Fatal("client: ", string(data.Bytes()))
		}
	})

	deadline := time.Now().Add(5 * time.Second)
	for !done {
		if time.Now().After(deadline) {
			logrus.Fatal("timed out waiting for the echo")
		}
		if err := reactor.Tick(100); err != nil {
			logrus.Fatal(err)
		}
	}
	logrus.Info("ok")
}
