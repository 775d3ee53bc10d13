package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"kestrel/internal/common"
	"kestrel/internal/config"
	kestrelNet "kestrel/internal/net"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	// 1. CLI Parameter Parsing
	configPath := flag.String("config", "", "Exchange config file providing instrument tick sizes")
	serverAddr := flag.String("server", "127.0.0.1:9001", "Address of the exchange server")
	owner := flag.String("owner", "", "Owner username (compulsory)")
	action := flag.String("action", "place", "Action to perform: ['place', 'cancel', 'modify', 'ping']")

	// Order Parameters
	instrument := flag.String("instrument", "AAPL", "Instrument symbol")
	tickSize := flag.String("tick", "", "Tick size override; defaults to the configured instrument's")
	sideStr := flag.String("side", "buy", "Order side: 'buy' or 'sell'")
	typeStr := flag.String("type", "limit", "Order type: 'limit' or 'market'")
	tifStr := flag.String("tif", "gtc", "Time in force: 'gtc', 'ioc' or 'fok'")
	price := flag.String("price", "100.00", "Limit price")
	qtyStr := flag.String("qty", "10", "Quantity or comma-separated list (e.g. 10,20,50)")

	// Cancel / Modify Parameters
	id := flag.String("id", "", "Order id; optional for place, required for cancel and modify")

	flag.Parse()

	// Validation
	if *owner == "" {
		fmt.Println("Error: -owner is compulsory.")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load config")
	}
	inst, err := cfg.Resolve(*instrument, *tickSize)
	if err != nil {
		log.Fatal().Err(err).Str("instrument", *instrument).Msg("unable to resolve tick size")
	}
	ticks, err := parsePrice(inst, *price)
	if err != nil {
		log.Fatal().Err(err).Str("price", *price).Msg("invalid price")
	}

	// Connect to Server
	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatal().Err(err).Str("server", *serverAddr).Msg("failed to connect to server")
	}
	defer conn.Close()
	fmt.Printf("Connected to %s as '%s'\n", *serverAddr, *owner)

	// Start Listening for Reports (Async)
	go readReports(conn, inst)

	// Execute Action
	switch strings.ToLower(*action) {
	case "place":
		msg := kestrelNet.NewOrderMessage{
			OrderType:   common.LimitOrder,
			Side:        common.Buy,
			TimeInForce: common.GTC,
			LimitPrice:  ticks,
			Instrument:  *instrument,
			Username:    *owner,
		}
		if strings.ToLower(*sideStr) == "sell" {
			msg.Side = common.Sell
		}
		if strings.ToLower(*typeStr) == "market" {
			msg.OrderType = common.MarketOrder
			msg.LimitPrice = 0
		}
		switch strings.ToLower(*tifStr) {
		case "ioc":
			msg.TimeInForce = common.IOC
		case "fok":
			msg.TimeInForce = common.FOK
		}

		quantities := parseQuantities(*qtyStr)
		for i, q := range quantities {
			msg.Quantity = q
			msg.ClientID = ""
			if *id != "" {
				msg.ClientID = *id
				if len(quantities) > 1 {
					msg.ClientID = fmt.Sprintf("%s-%d", *id, i)
				}
			}
			if err := send(conn, kestrelNet.NewOrder, msg.Serialize); err != nil {
				log.Error().Err(err).Uint64("qty", q).Msg("failed to place order")
				continue
			}
			fmt.Printf("-> Sent %s %s Order: %s %d @ %s\n",
				strings.ToUpper(*tifStr), strings.ToUpper(*sideStr), *instrument, q, *price)
			// Small optional sleep to ensure server processes sequence distinctly if needed
			time.Sleep(5 * time.Millisecond)
		}

	case "cancel":
		if *id == "" {
			log.Fatal().Msg("-id is required for cancellation")
		}
		msg := kestrelNet.CancelOrderMessage{Instrument: *instrument, OrderID: *id}
		if err := send(conn, kestrelNet.CancelOrder, msg.Serialize); err != nil {
			log.Error().Err(err).Msg("failed to send cancel request")
		} else {
			fmt.Printf("-> Sent Cancel Request for %s\n", *id)
		}

	case "modify":
		if *id == "" {
			log.Fatal().Msg("-id is required for modification")
		}
		quantities := parseQuantities(*qtyStr)
		if len(quantities) != 1 {
			log.Fatal().Msg("modify takes a single -qty")
		}
		msg := kestrelNet.ModifyOrderMessage{Instrument: *instrument, OrderID: *id, Quantity: quantities[0], LimitPrice: ticks}
		if err := send(conn, kestrelNet.ModifyOrder, msg.Serialize); err != nil {
			log.Error().Err(err).Msg("failed to send modify request")
		} else {
			fmt.Printf("-> Sent Modify Request for %s: %d @ %s\n", *id, quantities[0], *price)
		}

	case "ping":
		if err := kestrelNet.WriteFrame(conn, uint16(kestrelNet.Heartbeat), nil); err != nil {
			log.Error().Err(err).Msg("failed to send heartbeat")
		}

	default:
		log.Fatal().Str("action", *action).Msg("unknown action")
	}

	// Keep the client alive to receive reports
	fmt.Println("\nListening for reports... (Press Ctrl+C to exit)")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
}

func parsePrice(inst config.Instrument, price string) (common.Price, error) {
	value, err := decimal.NewFromString(price)
	if err != nil {
		return 0, err
	}
	return inst.ToTicks(value)
}

// parseQuantities splits a comma-separated string into a slice of uint64
func parseQuantities(input string) []uint64 {
	parts := strings.Split(input, ",")
	var result []uint64
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if val, err := strconv.ParseUint(p, 10, 64); err == nil {
			result = append(result, val)
		} else {
			log.Warn().Str("qty", p).Msg("invalid quantity, skipping")
		}
	}
	return result
}

func send(conn net.Conn, typeOf kestrelNet.MessageType, serialize func() ([]byte, error)) error {
	body, err := serialize()
	if err != nil {
		return err
	}
	return kestrelNet.WriteFrame(conn, uint16(typeOf), body)
}

// readReports continuously reads and prints reports from the server
func readReports(conn net.Conn, inst config.Instrument) {
	for {
		typeOf, body, err := kestrelNet.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Error().Err(err).Msg("connection lost")
			}
			os.Exit(0)
		}
		if typeOf == uint16(kestrelNet.Heartbeat) {
			fmt.Println("\n[HEARTBEAT]")
			continue
		}

		r, err := kestrelNet.ParseReport(typeOf, body)
		if err != nil {
			log.Error().Err(err).Msg("unable to parse report")
			continue
		}

		price := inst.FromTicks(r.Price).StringFixed(int32(-inst.FromTicks(1).Exponent()))
		switch r.MessageType {
		case kestrelNet.ErrorReport:
			fmt.Printf("\n[SERVER ERROR] %s\n", r.Text)
		case kestrelNet.ExecutionReport:
			fmt.Printf("\n[EXECUTION] #%d %s %s | Qty: %d | Price: %s | vs: %s | ID: %s\n",
				r.Sequence, strings.ToUpper(r.Side.String()), r.Instrument, r.Quantity, price, r.Text, r.OrderID)
		default:
			line := fmt.Sprintf("\n[%s] #%d %s %s | Qty: %d | Remaining: %d | Price: %s | ID: %s",
				strings.ToUpper(r.Kind.String()), r.Sequence, strings.ToUpper(r.Side.String()), r.Instrument,
				r.Quantity, r.Remaining, price, r.OrderID)
			if r.Text != "" {
				line += " (" + r.Text + ")"
			}
			fmt.Println(line)
		}
	}
}
