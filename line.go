package usbbridge

import (
	"fmt"

	gobug "go.bug.st/serial"
)

type BaudRate int

func (b BaudRate) Int() int {
	return int(b)
}

const (
	Baud9600   BaudRate = 9600
	Baud19200  BaudRate = 19200
	Baud38400  BaudRate = 38400
	Baud57600  BaudRate = 57600
	Baud115200 BaudRate = 115200
	Baud230400 BaudRate = 230400
	Baud460800 BaudRate = 460800
	Baud921600 BaudRate = 921600
)

type DataBits int

func (d DataBits) Int() int {
	return int(d)
}

const (
	DataBits5 DataBits = 5
	DataBits6 DataBits = 6
	DataBits7 DataBits = 7
	DataBits8 DataBits = 8
)

// StopBits counts stop bits as written on the wire (1, 1.5 or 2).
type StopBits float64

// Get maps the stop bit count to the go.bug.st representation.
func (sb StopBits) Get() gobug.StopBits {
	switch sb {
	case StopBits1Half:
		return gobug.OnePointFiveStopBits
	case StopBits2:
		return gobug.TwoStopBits
	default:
		return gobug.OneStopBit
	}
}

const (
	StopBits1     StopBits = 1
	StopBits1Half StopBits = 1.5
	StopBits2     StopBits = 2
)

type Parity string

const (
	ParityNone  Parity = "none"
	ParityOdd   Parity = "odd"
	ParityEven  Parity = "even"
	ParityMark  Parity = "mark"
	ParitySpace Parity = "space"
)

// Get maps the parity to the go.bug.st representation.
func (pa Parity) Get() gobug.Parity {
	switch pa {
	case ParityOdd:
		return gobug.OddParity
	case ParityEven:
		return gobug.EvenParity
	case ParityMark:
		return gobug.MarkParity
	case ParitySpace:
		return gobug.SpaceParity
	default:
		return gobug.NoParity
	}
}

// LineParameters are applied to a port right after it is opened. Flow
// control is always off.
type LineParameters struct {
	BaudRate BaudRate `mapstructure:"baud_rate" validate:"oneof=9600 19200 38400 57600 115200 230400 460800 921600"`
	DataBits DataBits `mapstructure:"data_bits" validate:"min=5,max=8"`
	StopBits StopBits `mapstructure:"stop_bits" validate:"stopbits"`
	Parity   Parity   `mapstructure:"parity" validate:"oneof=none odd even mark space"`
}

// DefaultLineParameters is 115200 8N1.
func DefaultLineParameters() LineParameters {
	return LineParameters{
		BaudRate: Baud115200,
		DataBits: DataBits8,
		StopBits: StopBits1,
		Parity:   ParityNone,
	}
}

// Mode converts the parameters into a go.bug.st mode.
func (lp LineParameters) Mode() *gobug.Mode {
	return &gobug.Mode{
		BaudRate: lp.BaudRate.Int(),
		DataBits: lp.DataBits.Int(),
		Parity:   lp.Parity.Get(),
		StopBits: lp.StopBits.Get(),
	}
}

func (lp LineParameters) String() string {
	return fmt.Sprintf("%d %d%c%v", lp.BaudRate, lp.DataBits, parityLetter(lp.Parity), float64(lp.StopBits))
}

func parityLetter(p Parity) byte {
	switch p {
	case ParityOdd:
		return 'O'
	case ParityEven:
		return 'E'
	case ParityMark:
		return 'M'
	case ParitySpace:
		return 'S'
	default:
		return 'N'
	}
}
