package shelvery

import (
	"io"
	"net/rpc"

	"github.com/hashicorp/yamux"
	"github.com/sirupsen/logrus"
)

type ReadWriteCloser struct {
	io.ReadCloser
	io.WriteCloser
}

func (rwc *ReadWriteCloser) Close() error {
	if err := rwc.ReadCloser.Close(); err != nil {
		_ = rwc.WriteCloser.Close()
		return err
	}
	return rwc.WriteCloser.Close()
}

// Start command and speak net/rpc to it over a yamux session on its stdin/stdout
func OpenProxy(logger *logrus.Entry, command []string) (*yamux.Session, *rpc.Client, error) {
	cmd := BuildCommand(command)
	cmd.Stdout = nil
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}

	rwc := ReadWriteCloser{
		ReadCloser:  stdout,
		WriteCloser: stdin,
	}

	err = StartCommand(logger, cmd)
	if err != nil {
		return nil, nil, err
	}

	session, err := yamux.Client(&rwc, nil)
	if err != nil {
		return nil, nil, err
	}

	rpcStream, err := session.OpenStream()
	if err != nil {
		_ = session.Close()
		return nil, nil, err
	}

	return session, rpc.NewClient(rpcStream), nil
}

func CloseProxy(session *yamux.Session, rpcClient *rpc.Client) error {
	err := rpcClient.Close()
	if err != nil {
		_ = session.Close()
		return err
	}
	return session.Close()
}

// Serve rcvr over a yamux session on rwc, until the peer closes it
func ServeProxy(rwc io.ReadWriteCloser, name string, rcvr interface{}) error {
	session, err := yamux.Server(rwc, nil)
	if err != nil {
		return err
	}
	defer session.Close()

	server := rpc.NewServer()
	if err = server.RegisterName(name, rcvr); err != nil {
		return err
	}

	stream, err := session.Accept()
	if err != nil {
		return err
	}

	server.ServeConn(stream)
	return nil
}
