package rtprelay

import (
	"fmt"
	"net"
)

// DSCPExpeditedForwarding - EF, класс для голосового трафика
const DSCPExpeditedForwarding = 46

// socketOptions применяются к каждому RTP сокету после bind
type socketOptions struct {
	DSCP       int
	BufferSize int
}

// listenUDP открывает RTP сокет на ip:port и применяет опции для голоса
func listenUDP(ip string, port int, opts socketOptions) (*net.UDPConn, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", addr, err)
	}

	rawConn, err := conn.SyscallConn()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("не удалось получить системный сокет: %w", err)
	}

	var sockErr error
	if err := rawConn.Control(func(fd uintptr) {
		sockErr = applySocketOptions(int(fd), opts)
	}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ошибка управления сокетом: %w", err)
	}
	if sockErr != nil {
		_ = conn.Close()
		return nil, sockErr
	}

	return conn, nil
}
