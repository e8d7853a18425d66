// Package kfmt provides a minimal, allocation-free Printf implementation
// that can be used before the Go runtime has been fully bootstrapped.
package kfmt

import "io"

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")

	trueValue  = []byte("true")
	falseValue = []byte("false")

	// numFmtBuf is a shared scratch buffer for formatting numbers; it is
	// big enough for a 64-bit value in base 8.
	numFmtBuf [22]byte

	// singleByte is used as a shared buffer for passing single characters
	// to doWrite.
	singleByte = []byte(" ")

	// earlyPrintBuffer is a ring buffer that stores Printf output before
	// an output sink is registered.
	earlyPrintBuffer ringBuffer

	// outputSink is the io.Writer where Printf sends its output. If nil,
	// output is redirected to the earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the target for calls to Printf to w and copies any data
// accumulated in the early print buffer to it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// Printf formats its arguments and writes the result to the registered
// output sink. It supports a subset of the fmt.Printf verbs:
//
//	%s  string or []byte
//	%t  boolean
//	%o  integer, base 8
//	%d  integer, base 10
//	%x  integer, base 16
//
// Numeric verbs accept an optional width; shorter values are left-padded
// with spaces. This implementation does not allocate any memory.
func Printf(format string, args ...interface{}) {
	var (
		nextArg    int
		blockStart int
	)

	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			continue
		}

		// Write the literal block byte by byte through the shared buffer;
		// a []byte conversion of the format slice would allocate.
		doWriteString(format[blockStart:i])

		// Scan optional padding digits
		padTo := 0
		for i++; i < len(format) && format[i] >= '0' && format[i] <= '9'; i++ {
			padTo = padTo*10 + int(format[i]-'0')
		}

		if i == len(format) {
			doWrite(errNoVerb)
			return
		}

		switch format[i] {
		case 's':
			if nextArg >= len(args) {
				doWrite(errMissingArg)
				break
			}
			fmtString(args[nextArg])
			nextArg++
		case 't':
			if nextArg >= len(args) {
				doWrite(errMissingArg)
				break
			}
			fmtBool(args[nextArg])
			nextArg++
		case 'o', 'd', 'x':
			if nextArg >= len(args) {
				doWrite(errMissingArg)
				break
			}
			fmtInt(args[nextArg], format[i], padTo)
			nextArg++
		case '%':
			singleByte[0] = '%'
			doWrite(singleByte)
		default:
			doWrite(errNoVerb)
		}

		blockStart = i + 1
	}

	if blockStart < len(format) {
		doWriteString(format[blockStart:])
	}
}

func fmtString(arg interface{}) {
	switch v := arg.(type) {
	case string:
		doWriteString(v)
	case []byte:
		doWrite(v)
	case *[]byte:
		doWrite(*v)
	default:
		doWrite(errWrongArgType)
	}
}

func fmtBool(arg interface{}) {
	switch v := arg.(type) {
	case bool:
		if v {
			doWrite(trueValue)
		} else {
			doWrite(falseValue)
		}
	default:
		doWrite(errWrongArgType)
	}
}

func fmtInt(arg interface{}, verb byte, padTo int) {
	var (
		value uint64
		neg   bool
	)

	switch v := arg.(type) {
	case uint8:
		value = uint64(v)
	case uint16:
		value = uint64(v)
	case uint32:
		value = uint64(v)
	case uint64:
		value = v
	case uint:
		value = uint64(v)
	case uintptr:
		value = uint64(v)
	case int8:
		neg, value = v < 0, uint64(abs(int64(v)))
	case int16:
		neg, value = v < 0, uint64(abs(int64(v)))
	case int32:
		neg, value = v < 0, uint64(abs(int64(v)))
	case int64:
		neg, value = v < 0, uint64(abs(v))
	case int:
		neg, value = v < 0, uint64(abs(int64(v)))
	default:
		doWrite(errWrongArgType)
		return
	}

	var base uint64
	switch verb {
	case 'o':
		base = 8
	case 'd':
		base = 10
	case 'x':
		base = 16
	}

	// Render digits into the scratch buffer, last digit first
	index := len(numFmtBuf)
	for {
		index--
		digit := value % base
		if digit < 10 {
			numFmtBuf[index] = byte('0' + digit)
		} else {
			numFmtBuf[index] = byte('a' + digit - 10)
		}

		if value /= base; value == 0 {
			break
		}
	}

	if neg {
		index--
		numFmtBuf[index] = '-'
	}

	for pad := padTo - (len(numFmtBuf) - index); pad > 0; pad-- {
		singleByte[0] = ' '
		doWrite(singleByte)
	}

	doWrite(numFmtBuf[index:])
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func doWrite(b []byte) {
	if outputSink != nil {
		outputSink.Write(b)
	} else {
		earlyPrintBuffer.Write(b)
	}
}

func doWriteString(s string) {
	for i := 0; i < len(s); i++ {
		singleByte[0] = s[i]
		doWrite(singleByte)
	}
}
