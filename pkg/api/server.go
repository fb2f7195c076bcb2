package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/avereha/podcomm/pkg/alert"
	"github.com/avereha/podcomm/pkg/message"
	"github.com/avereha/podcomm/pkg/response"
	"github.com/avereha/podcomm/pkg/simulator"
	"github.com/avereha/podcomm/pkg/transport"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Server exposes a simulated pod over websockets. Controllers exchange
// wrapped frames on /pod; web clients watch and poke the pod state with
// JSON commands on /ws.
type Server struct {
	pod    *simulator.Pod
	sealer *transport.Sealer

	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

func New(pod *simulator.Pod, sealer *transport.Sealer) *Server {
	ret := &Server{
		pod:    pod,
		sealer: sealer,
		conns:  make(map[*websocket.Conn]bool),
	}
	pod.SetWebMessageHook(ret.sendMessage)
	return ret
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "This is an API to the pod simulator intended to be used with a separate web client.")
	})
	mux.HandleFunc("/pod", s.servePod)
	mux.HandleFunc("/ws", s.serveControl)
	return mux
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()
	log.Infof("Pod simulator web api listening on %s", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) sendMessage(msg []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Warnf("dropping web client: %s", err)
			conn.Close()
			delete(s.conns, conn)
		}
	}
}

// servePod relays the frames of one controller connection to the pod.
func (s *Server) servePod(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("upgrade: %s", err)
		return
	}
	defer conn.Close()
	l := log.WithField("controller", r.RemoteAddr)
	l.Infof("controller connected")

	var counter uint64
	for {
		mt, p, err := conn.ReadMessage()
		if err != nil {
			l.Infof("controller gone: %s", err)
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		reply, err := s.exchange(r.Context(), counter, p)
		counter++
		if err != nil {
			l.Warnf("exchange: %s", err)
			err = conn.WriteMessage(websocket.TextMessage, []byte(err.Error()))
		} else {
			err = conn.WriteMessage(websocket.BinaryMessage, message.WrapResponse(reply))
		}
		if err != nil {
			l.Warnf("write: %s", err)
			return
		}
	}
}

func (s *Server) exchange(ctx context.Context, counter uint64, wrapped []byte) ([]byte, error) {
	frame, err := message.UnwrapCommand(wrapped)
	if err != nil {
		return nil, err
	}
	if s.sealer != nil {
		if frame, err = s.sealer.Open(counter, frame, transport.ToPod); err != nil {
			return nil, err
		}
	}
	reply, err := s.pod.Exchange(ctx, frame)
	if err != nil {
		return nil, err
	}
	if s.sealer != nil {
		return s.sealer.Seal(counter, reply, transport.FromPod)
	}
	return reply, nil
}

func (s *Server) serveControl(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("upgrade: %s", err)
		return
	}
	s.mu.Lock()
	s.conns[conn] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	s.reader(conn)
}

// reader sends the current state, then applies the commands of a web client
// until it goes away.
func (s *Server) reader(conn *websocket.Conn) {
	for {
		state, err := s.pod.GetPodStateJson()
		if err != nil {
			log.Error(err)
			return
		}
		s.mu.Lock()
		err = conn.WriteMessage(websocket.TextMessage, state)
		s.mu.Unlock()
		if err != nil {
			log.Warn(err)
			return
		}

		_, p, err := conn.ReadMessage()
		if err != nil {
			log.Debug(err)
			return
		}
		log.Debugf("Received: %s", p)
		if err := s.handleCommand(p); err != nil {
			log.Warnf("web command %s: %s", p, err)
		}
	}
}

// Command is a web client request. Value is a number for every command but
// crashNextCommand, which reads BeforeProcessing.
type Command struct {
	Command          string  `json:"command"`
	Value            float64 `json:"value"`
	BeforeProcessing bool    `json:"beforeProcessing"`
}

func (s *Server) handleCommand(data []byte) error {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return err
	}

	switch cmd.Command {
	case "changeReservoir":
		s.pod.SetReservoir(cmd.Value)
	case "setAlerts":
		s.pod.SetAlerts(alert.Set(cmd.Value))
	case "setFault":
		s.pod.SetFault(response.FaultEventCode(cmd.Value))
	case "setActiveTime":
		s.pod.SetActiveTime(int(cmd.Value))
	case "crashNextCommand":
		s.pod.CrashNextCommand(cmd.BeforeProcessing)
	default:
		return fmt.Errorf("unknown command %q", cmd.Command)
	}
	return nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,

	// the web client is served from a separate development server
	CheckOrigin: func(r *http.Request) bool { return true },
}
