package e2e

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"collab-lab/client"
	"collab-lab/domain"
	"collab-lab/protocol"
)

type testCollaborationSuite struct {
	BaseRelaySuite
}

func TestCollaborationSuite(t *testing.T) {
	suite.Run(t, &testCollaborationSuite{})
}

const recvWindow = 5 * time.Second

// recvType drains envelopes until one of the wanted type arrives.
func (s *testCollaborationSuite) recvType(c *client.Client, want string) domain.Envelope {
	deadline := time.Now().Add(recvWindow)
	for time.Now().Before(deadline) {
		env, err := c.RecvTimeout(recvWindow)
		s.Require().NoError(err)
		if env.Type == want {
			return env
		}
	}
	s.Require().FailNowf("timeout", "no %s envelope within %s", want, recvWindow)
	return domain.Envelope{}
}

func (s *testCollaborationSuite) login(username string) *client.Client {
	c, err := client.Dial(s.ControlAddr(), 5*time.Second)
	s.Require().NoError(err)
	_, err = c.Login(username)
	s.Require().NoError(err)
	return c
}

func (s *testCollaborationSuite) TestFullCollaborationFlow() {
	var alice, bob *client.Client

	// --- STEP 1: LOGIN & ROSTER ---
	s.Run("Step 1: Two participants join the room", func() {
		s.Step("alice and bob log in")
		alice = s.login("alice")
		bob = s.login("bob")

		env := s.recvType(alice, domain.TypeUserJoined)
		var joined domain.UserEvent
		s.Require().NoError(env.Decode(&joined))
		s.Require().Equal("bob", joined.Username)
	})
	defer func() {
		if alice != nil {
			alice.Close()
		}
		if bob != nil {
			bob.Close()
		}
	}()

	// --- STEP 2: DUPLICATE USERNAME ---
	s.Run("Step 2: A second alice is turned away", func() {
		s.Step("duplicate username rejected")
		impostor, err := client.Dial(s.ControlAddr(), 5*time.Second)
		s.Require().NoError(err)
		defer impostor.Close()

		_, err = impostor.Login("alice")
		s.Require().Error(err)
		s.Require().Contains(err.Error(), "DUPLICATE_USERNAME")
	})

	// --- STEP 3: CHAT BROADCAST ---
	s.Run("Step 3: Chat reaches the whole room, sender included", func() {
		s.Step("broadcast chat")
		s.Require().NoError(alice.Chat("hello everyone"))

		for _, c := range []*client.Client{alice, bob} {
			env := s.recvType(c, domain.TypeChatMessage)
			var msg domain.ChatMessage
			s.Require().NoError(env.Decode(&msg))
			s.Require().Equal("alice", msg.Username)
			s.Require().Equal("hello everyone", msg.Content)
		}
	})

	// --- STEP 4: MODERATION ---
	s.Run("Step 4: Listed words are censored before fan-out", func() {
		s.Step("moderated chat")
		s.Require().NoError(bob.Chat("what a blast today"))

		env := s.recvType(alice, domain.TypeChatMessage)
		var msg domain.ChatMessage
		s.Require().NoError(env.Decode(&msg))
		s.Require().Equal("what a ***** today", msg.Content)
	})

	// --- STEP 5: UNICAST ---
	s.Run("Step 5: Whispers reach only their target", func() {
		s.Step("unicast to bob, then to a ghost")
		s.Require().NoError(alice.Unicast("bob", "psst"))

		env := s.recvType(bob, domain.TypeUnicast)
		var msg domain.UnicastMessage
		s.Require().NoError(env.Decode(&msg))
		s.Require().Equal("alice", msg.Username)
		s.Require().Equal("psst", msg.Content)

		s.Require().NoError(alice.Unicast("carol", "anyone?"))
		errEnv := s.recvType(alice, domain.TypeError)
		var payload domain.ErrorPayload
		s.Require().NoError(errEnv.Decode(&payload))
		s.Require().Equal("NOT_FOUND", payload.Code)
	})

	// --- STEP 6: PRESENTER EXCLUSIVITY ---
	s.Run("Step 6: One presenter at a time", func() {
		s.Step("presenter slot contention")
		s.Require().NoError(alice.StartPresenting())
		s.recvType(bob, domain.TypePresentStartBroadcast)

		s.Require().NoError(bob.StartPresenting())
		errEnv := s.recvType(bob, domain.TypeError)
		var payload domain.ErrorPayload
		s.Require().NoError(errEnv.Decode(&payload))
		s.Require().Equal("PRESENTER_BUSY", payload.Code)

		s.Require().NoError(alice.StopPresenting())
		s.recvType(bob, domain.TypePresentStopBroadcast)
	})

	// --- STEP 7: SCREEN SHARE STREAM ---
	s.Run("Step 7: Screen blobs flow producer to consumer", func() {
		s.Step("screen share relay")
		producer, err := client.DialShare(s.ShareAddr(), protocol.RoleProducer, alice.UID())
		s.Require().NoError(err)
		defer producer.Close()

		consumer, err := client.DialShare(s.ShareAddr(), protocol.RoleConsumer, bob.UID())
		s.Require().NoError(err)
		defer consumer.Close()

		blob := bytes.Repeat([]byte{0xAB}, 4096)
		s.Require().NoError(protocol.WriteFrame(producer, blob))

		s.Require().NoError(consumer.SetReadDeadline(time.Now().Add(recvWindow)))
		got, err := protocol.ReadFrame(consumer, 16<<20)
		s.Require().NoError(err)
		s.Require().Equal(blob, got)

		// The control channel announced the producer's claim.
		s.recvType(bob, domain.TypePresentStartBroadcast)
	})
	s.recvType(bob, domain.TypePresentStopBroadcast)

	// --- STEP 8: FILE UPLOAD ---
	content := bytes.Repeat([]byte("shared bytes "), 4096)
	s.Run("Step 8: Upload with checksum verification", func() {
		s.Step("file upload")
		result, err := client.Upload(s.UploadAddr(), alice.UID(), "handout.bin",
			bytes.NewReader(content), int64(len(content)), client.Checksum(content))
		s.Require().NoError(err)
		s.Require().True(result.OK)
		s.Require().NotEmpty(result.FileID)

		// Everyone in the room learns about the new file.
		env := s.recvType(bob, domain.TypeFileAvailable)
		var available domain.FileAvailable
		s.Require().NoError(env.Decode(&available))
		s.Require().Equal("handout.bin", available.Filename)
		s.Require().Equal("alice", available.Uploader)
		s.Require().Equal(int64(len(content)), available.Size)
	})

	// --- STEP 9: FILE LIST ---
	s.Run("Step 9: The catalog lists the upload", func() {
		s.Step("file list over control channel")
		s.Require().NoError(bob.RequestFileList(true))
		env := s.recvType(bob, domain.TypeFileListResponse)
		var list domain.FileListResponse
		s.Require().NoError(env.Decode(&list))
		s.Require().Equal(s.RelayCfg.DownloadPort, list.Port)
		s.Require().Len(list.Files, 1)
		s.Require().Equal("handout.bin", list.Files[0].Filename)
	})

	// --- STEP 10: DOWNLOAD, FULL AND RESUMED ---
	s.Run("Step 10: Download integrity, including resume", func() {
		s.Step("full then resumed download")
		var full bytes.Buffer
		n, err := client.Download(s.DownloadAddr(), bob.UID(), "handout.bin", 0, &full)
		s.Require().NoError(err)
		s.Require().Equal(int64(len(content)), n)
		s.Require().Equal(content, full.Bytes())

		half := int64(len(content) / 2)
		var tail bytes.Buffer
		_, err = client.Download(s.DownloadAddr(), bob.UID(), "handout.bin", half, &tail)
		s.Require().NoError(err)

		joined := append(append([]byte(nil), content[:half]...), tail.Bytes()...)
		s.Require().Equal(content, joined)
	})

	// --- STEP 11: VIDEO RELAY ---
	s.Run("Step 11: Video datagrams reach the other participant", func() {
		s.Step("UDP video fan-out")
		sockA, err := net.DialUDP("udp", nil, s.VideoAddr())
		s.Require().NoError(err)
		defer sockA.Close()
		sockB, err := net.DialUDP("udp", nil, s.VideoAddr())
		s.Require().NoError(err)
		defer sockB.Close()

		// Bob announces its endpoint first, then alice transmits.
		hello := protocol.VideoPacket{
			SenderUID: bob.UID(), Sequence: 1, TotalFragments: 1, Payload: []byte("hi"),
		}
		_, err = sockB.Write(hello.Marshal())
		s.Require().NoError(err)
		time.Sleep(100 * time.Millisecond)

		frame := protocol.VideoPacket{
			SenderUID: alice.UID(), Sequence: 2, TotalFragments: 1,
			Payload: []byte("video-fragment"),
		}
		sent := frame.Marshal()
		_, err = sockA.Write(sent)
		s.Require().NoError(err)

		s.Require().NoError(sockB.SetReadDeadline(time.Now().Add(recvWindow)))
		buf := make([]byte, 65536)
		n, err := sockB.Read(buf)
		s.Require().NoError(err)
		s.Require().Equal(sent, buf[:n])
	})

	// --- STEP 12: CLEAN LOGOUT ---
	s.Run("Step 12: Logout is announced to the room", func() {
		s.Step("logout cascade")
		s.Require().NoError(alice.Logout())

		env := s.recvType(bob, domain.TypeUserLeft)
		var left domain.UserEvent
		s.Require().NoError(env.Decode(&left))
		s.Require().Equal("alice", left.Username)
	})
}
