package trace

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/junbin-yang/go-policebox/pkg/policebox"
)

// Resolver 把发送端地址映射到流，*policebox.Controller 实现了它
type Resolver interface {
	FlowByAddr(addr netip.Addr) (policebox.FlowID, bool)
}

// StaticResolver 固定的地址表
type StaticResolver map[netip.Addr]policebox.FlowID

func (s StaticResolver) FlowByAddr(addr netip.Addr) (policebox.FlowID, bool) {
	id, ok := s[addr]
	return id, ok
}

// udpSeqLen 不可靠流的序号放在 UDP 负载的前 4 个字节（大端）
const udpSeqLen = 4

func addrs(pkt gopacket.Packet) (src, dst netip.Addr, ok bool) {
	switch l := pkt.NetworkLayer().(type) {
	case *layers.IPv4:
		src, _ = netip.AddrFromSlice(l.SrcIP.To4())
		dst, _ = netip.AddrFromSlice(l.DstIP.To4())
		return src, dst, true
	case *layers.IPv6:
		src, _ = netip.AddrFromSlice(l.SrcIP)
		dst, _ = netip.AddrFromSlice(l.DstIP)
		return src, dst, true
	}
	return src, dst, false
}

// ReadPcap 从抓包中提取事件
//
// 源地址属于某条流的 TCP 数据段产生 Deliver 事件（序号为 TCP 序号），
// 目的地址属于某条流的 TCP 段产生 Ack 事件；UDP 同理产生 Deliver 和 UnreliableAck。
// 时间相对于第一个报文。与任何流无关的报文被忽略。
func ReadPcap(r io.Reader, resolver Resolver) ([]Event, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("解析 pcap 文件头失败: %w", err)
	}

	var (
		events []Event
		start  time.Time
	)
	for {
		data, ci, err := pr.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("读取 pcap 报文失败: %w", err)
		}
		if start.IsZero() {
			start = ci.Timestamp
		}
		pkt := gopacket.NewPacket(data, pr.LinkType(), gopacket.Default)
		src, dst, ok := addrs(pkt)
		if !ok {
			continue
		}
		at := ci.Timestamp.Sub(start)

		if tcp, ok := pkt.Layer(layers.LayerTypeTCP).(*layers.TCP); ok {
			if flow, ok := resolver.FlowByAddr(src); ok && len(tcp.Payload) > 0 {
				events = append(events, Event{At: at, Type: Deliver, Flow: flow, Seq: tcp.Seq, Size: ci.Length, Kind: policebox.Reliable})
			} else if flow, ok := resolver.FlowByAddr(dst); ok && tcp.ACK {
				events = append(events, Event{At: at, Type: Ack, Flow: flow, Seq: tcp.Ack, Window: uint32(tcp.Window)})
			}
			continue
		}
		if udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP); ok && len(udp.Payload) >= udpSeqLen {
			seq := binary.BigEndian.Uint32(udp.Payload[:udpSeqLen])
			if flow, ok := resolver.FlowByAddr(src); ok {
				events = append(events, Event{At: at, Type: Deliver, Flow: flow, Seq: seq, Size: ci.Length, Kind: policebox.Unreliable})
			} else if flow, ok := resolver.FlowByAddr(dst); ok {
				events = append(events, Event{At: at, Type: UnreliableAck, Flow: flow, Seq: seq})
			}
		}
	}
	sortEvents(events)
	return events, nil
}
