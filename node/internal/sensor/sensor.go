// Package sensor reads the node's environmental sensor.
package sensor

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"
)

type Reading struct {
	Temperature      float32 // °C
	RelativeHumidity float32 // %rH
}

type Source interface {
	Sense(ctx context.Context) (Reading, error)
}

// Static returns the same reading every time. It stands in for a sensor on
// hosts without one.
type Static Reading

func (s Static) Sense(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	return Reading(s), nil
}

// BME280 reads a Bosch BME280 over I²C.
type BME280 struct {
	bus i2c.BusCloser
	dev *bmxx80.Dev
}

// OpenBME280 opens the named I²C bus ("" for the default, usually
// /dev/i2c-1) and the sensor at addr.
func OpenBME280(busName string, addr uint16) (*BME280, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", busName, err)
	}

	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("bme280 at %#x: %w", addr, err)
	}
	return &BME280{bus: bus, dev: dev}, nil
}

func (b *BME280) Sense(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	var env physic.Env
	if err := b.dev.Sense(&env); err != nil {
		return Reading{}, fmt.Errorf("bme280 sense: %w", err)
	}
	return fromEnv(env), nil
}

func (b *BME280) Close() error {
	haltErr := b.dev.Halt()
	if err := b.bus.Close(); err != nil {
		return err
	}
	return haltErr
}

func fromEnv(env physic.Env) Reading {
	return Reading{
		Temperature:      float32(env.Temperature.Celsius()),
		RelativeHumidity: float32(float64(env.Humidity) / float64(physic.PercentRH)),
	}
}
