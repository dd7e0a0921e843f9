package nodeagent

import (
	"crypto/subtle"
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
)

const (
	msgAuthFailed = "Authorization failed"
	msgNoUUID     = "No uuid specified"
	msgAdded      = "User added successfully"
	msgDeleted    = "User deleted successfully"
	msgApplyFail  = "Failed to apply configuration"
)

// Server answers the control plane's add, credentials and delete calls
type Server struct {
	cfg     *Config
	xray    *XrayConfig
	info    *ServerInfoCache
	applier Applier

	// serializes read-modify-write-apply of the xray config
	mu sync.Mutex
}

func NewServer(cfg *Config, applier Applier) *Server {
	xray := NewXrayConfig(cfg.XrayConfigPath)
	return &Server{
		cfg:     cfg,
		xray:    xray,
		info:    NewServerInfoCache(cfg.ServerInfoPath, cfg.PublicKey, xray),
		applier: applier,
	}
}

type uuidRequest struct {
	UUID string `json:"uuid"`
}

// Router builds the gin engine for the agent
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	router.Use(s.authMiddleware())
	router.POST("/add", s.requireUUID, s.add)
	router.POST("/credentials", s.requireUUID, s.credentials)
	router.POST("/delete", s.requireUUID, s.delete)
	return router
}

// authMiddleware requires the shared secret and the control plane's source address
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Token")
		okToken := subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.SharedSecret)) == 1
		okAddr := c.RemoteIP() == s.cfg.ControlAddress
		if !okToken || !okAddr {
			log.Printf("[NodeAgent] Rejected %s %s from %s", c.Request.Method, c.Request.URL.Path, c.RemoteIP())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": msgAuthFailed})
			return
		}
		c.Next()
	}
}

func (s *Server) requireUUID(c *gin.Context) {
	var req uuidRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UUID == "" {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": msgNoUUID})
		return
	}
	c.Set("uuid", req.UUID)
	c.Next()
}

func (s *Server) add(c *gin.Context) {
	id := c.GetString("uuid")

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.xray.AddClient(id, c.RemoteIP()); err != nil {
		log.Printf("[NodeAgent] Add %s failed: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}
	if err := s.applier.Apply(c.Request.Context()); err != nil {
		log.Printf("[NodeAgent] Apply after add %s failed: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": msgApplyFail})
		return
	}

	log.Printf("[NodeAgent] Client added: %s (user %s)", id, c.GetHeader("UserId"))
	c.JSON(http.StatusOK, gin.H{"message": msgAdded})
}

func (s *Server) credentials(c *gin.Context) {
	id := c.GetString("uuid")

	info, err := s.info.Get()
	if err != nil {
		log.Printf("[NodeAgent] Server info unavailable: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": VlessURI(info, id, s.cfg.PublicHost, s.cfg.LinkLabel)})
}

func (s *Server) delete(c *gin.Context) {
	id := c.GetString("uuid")

	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.xray.RemoveClient(id)
	if err != nil {
		log.Printf("[NodeAgent] Delete %s failed: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}
	if err := s.applier.Apply(c.Request.Context()); err != nil {
		log.Printf("[NodeAgent] Apply after delete %s failed: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": msgApplyFail})
		return
	}

	log.Printf("[NodeAgent] Delete %s removed %d client(s)", id, removed)
	c.JSON(http.StatusOK, gin.H{"message": msgDeleted})
}

// Clients lists the configured clients
func (s *Server) Clients() ([]Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.xray.ListClients()
}
