// Command pdsink-demo brings up one sink port on two real GPIO lines and
// requests 9 V at 2 A through sinkpolicy.DefaultEvaluator (object 1 when no
// advertised PDO matches), logging every frame and policy event to stdout. It is not a CLI: there is
// nothing to type once it is running.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/tinypd/pdsink/port"
	"github.com/tinypd/pdsink/portcfg"
	"github.com/tinypd/pdsink/portlog"
	"github.com/tinypd/pdsink/pulseio"
	"github.com/tinypd/pdsink/sinkpolicy"
	"github.com/tinypd/pdsink/txengine"
)

const (
	ccPinName  = "GPIO5"
	auxPinName = "GPIO6"
)

func requestVoltageCallback(ev sinkpolicy.Event) {
	switch ev {
	case sinkpolicy.EventPowerReady:
		fmt.Print("Power is on\r\n")
	case sinkpolicy.EventPowerNotReady:
		fmt.Print("Power is off\r\n")
	case sinkpolicy.EventAccepted:
		fmt.Print("Source accepted our request\r\n")
	case sinkpolicy.EventRejected:
		fmt.Print("Source rejected our request\r\n")
	}
}

func main() {
	log.SetFlags(0)
	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}

	cc := gpioreg.ByName(ccPinName)
	if cc == nil {
		log.Fatalf("pin %s not found", ccPinName)
	}
	aux := gpioreg.ByName(auxPinName)
	if aux == nil {
		log.Fatalf("pin %s not found", auxPinName)
	}

	peripheral := pulseio.NewHardware(cc, aux)
	if err := portcfg.Configure(peripheral, portcfg.ModeSink); err != nil {
		log.Fatal(err)
	}

	policyCfg := sinkpolicy.DefaultConfig()
	policyCfg.DefaultRequestVoltageMV = 9000
	policyCfg.DefaultRequestCurrentMA = 2000

	p := port.New(port.Config{
		Peripheral:   peripheral,
		PoolSize:     8,
		TxConfig:     txengine.DefaultConfig(),
		PolicyConfig: policyCfg,
		Logger:       portlog.New(os.Stdout, "\r\n"),
	})
	p.Policy.SetCapabilityEvaluator(sinkpolicy.DefaultEvaluator(policyCfg))
	p.Policy.SetEventHandler(sinkpolicy.EventHandlerFunc(requestVoltageCallback))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	p.Run(ctx)
}
