package wire

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ctcpDelim brackets CTCP payloads inside PRIVMSG/NOTICE trailing text.
const ctcpDelim = "\x01"

// VersionRequest is the CTCP VERSION probe payload.
const VersionRequest = ctcpDelim + "VERSION" + ctcpDelim

// ErrNotDCCSend is returned when a trailing payload is not a DCC SEND offer.
var ErrNotDCCSend = errors.New("wire: not a DCC SEND payload")

// Offer is a decoded DCC SEND: the bot offers Filename at IP:Port, Size
// bytes long.
type Offer struct {
	Sender   string
	Filename string
	IP       net.IP
	Port     int
	Size     int64
}

func (o Offer) Addr() string {
	return net.JoinHostPort(o.IP.String(), strconv.Itoa(o.Port))
}

func (o Offer) String() string {
	return fmt.Sprintf("%s offers %q (%d bytes) at %s", o.Sender, o.Filename, o.Size, o.Addr())
}

// Quotes around the filename are optional and some bots emit a stray colon
// before the address integer.
var dccSendRe = regexp.MustCompile(`DCC SEND "*([^"]+)"* :*(\d+) (\d+) (\d+)`)

// IsCTCP reports whether trailing is a CTCP payload.
func IsCTCP(trailing string) bool {
	return strings.HasPrefix(trailing, ctcpDelim) && strings.HasSuffix(trailing, ctcpDelim)
}

// IsDCCSend reports whether trailing looks like a DCC SEND offer.
func IsDCCSend(trailing string) bool {
	return strings.Contains(trailing, "DCC SEND ")
}

// ParseDCCSend decodes a DCC SEND payload from sender. The host address is
// transmitted as a big-endian 32-bit integer.
func ParseDCCSend(sender, trailing string) (*Offer, error) {
	groups := dccSendRe.FindStringSubmatch(trailing)
	if groups == nil {
		return nil, errors.Wrapf(ErrNotDCCSend, "%q", trailing)
	}
	ip, err := strconv.ParseUint(groups[2], 10, 32)
	if err != nil {
		return nil, errors.Wrap(err, "wire: DCC SEND address")
	}
	port, err := strconv.Atoi(groups[3])
	if err != nil {
		return nil, errors.Wrap(err, "wire: DCC SEND port")
	}
	size, err := strconv.ParseInt(groups[4], 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "wire: DCC SEND size")
	}
	return &Offer{
		Sender:   sender,
		Filename: groups[1],
		IP:       IPv4FromUint32(uint32(ip)),
		Port:     port,
		Size:     size,
	}, nil
}

// IPv4FromUint32 decodes the DCC big-endian IPv4 integer encoding.
func IPv4FromUint32(n uint32) net.IP {
	return net.IPv4(byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
}
