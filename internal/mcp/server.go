package mcp

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/paularlott/mcp"

	"github.com/martinsuchenak/beacond/internal/cache"
	"github.com/martinsuchenak/beacond/internal/log"
	"github.com/martinsuchenak/beacond/internal/model"
	"github.com/martinsuchenak/beacond/internal/registry"
)

const serverVersion = "1.0.0"

// PageFetcher fetches and extracts a page without touching the cache
type PageFetcher interface {
	FetchAndExtract(ctx context.Context, url string) (*model.SiteMetadata, error)
}

// Server wraps the MCP server with the device registry and metadata cache
type Server struct {
	mcpServer   *mcp.Server
	registry    *registry.Registry
	cache       *cache.MetadataCache
	fetcher     PageFetcher
	bearerToken string
}

// NewServer creates a new MCP server for beacon device management
func NewServer(reg *registry.Registry, mc *cache.MetadataCache, fetcher PageFetcher, bearerToken string) *Server {
	s := &Server{
		mcpServer:   mcp.NewServer("beacond", serverVersion),
		registry:    reg,
		cache:       mc,
		fetcher:     fetcher,
		bearerToken: bearerToken,
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcpServer.RegisterTool(
		mcp.NewTool("device_register", "Register a beacon device and the page URL it resolves to. Overwrites the URL of an existing device and fetches the page metadata.",
			mcp.String("name", "Device ID as broadcast by the beacon", mcp.Required()),
			mcp.String("url", "Page URL for the device", mcp.Required()),
		),
		s.handleDeviceRegister,
	)

	s.mcpServer.RegisterTool(
		mcp.NewTool("device_get", "Get a beacon device and its cached page metadata",
			mcp.String("id", "Device ID", mcp.Required()),
		),
		s.handleDeviceGet,
	)

	s.mcpServer.RegisterTool(
		mcp.NewTool("device_list", "List all known beacon devices",
			mcp.String("query", "Only list devices whose ID or URL contains this text"),
		),
		s.handleDeviceList,
	)

	s.mcpServer.RegisterTool(
		mcp.NewTool("metadata_resolve", "Resolve page metadata for a URL through the cache. Fetches when the cached record is missing or stale.",
			mcp.String("url", "Page URL", mcp.Required()),
			mcp.String("force", "Set to true to refetch even when the cached record is fresh"),
		),
		s.handleMetadataResolve,
	)

	s.mcpServer.RegisterTool(
		mcp.NewTool("page_scrape", "Fetch a page and show the extracted metadata without caching it",
			mcp.String("url", "Page URL", mcp.Required()),
		),
		s.handlePageScrape,
	)
}

// HandleRequest handles MCP requests over HTTP
func (s *Server) HandleRequest(w http.ResponseWriter, r *http.Request) {
	log.Debug("MCP request received", "method", r.Method, "path", r.URL.Path, "remote_addr", r.RemoteAddr)

	if s.bearerToken != "" {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			log.Warn("MCP request missing Authorization header", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized: Missing Authorization header", http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(auth, "Bearer ") {
			log.Warn("MCP request invalid Authorization format", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized: Invalid Authorization format", http.StatusUnauthorized)
			return
		}
		token := strings.TrimPrefix(auth, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.bearerToken)) != 1 {
			log.Warn("MCP request invalid token", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
			return
		}
	}

	s.mcpServer.HandleRequest(w, r)
}

func (s *Server) handleDeviceRegister(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	name, err := req.String("name")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("name is required: " + err.Error())
	}
	url, err := req.String("url")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("url is required: " + err.Error())
	}

	device, err := s.registry.RegisterURL(ctx, name, url)
	if err != nil {
		if errors.Is(err, registry.ErrInvalidKey) || errors.Is(err, registry.ErrInvalidURL) {
			return nil, mcp.NewToolErrorInvalidParams(err.Error())
		}
		log.Error("MCP device register failed", "error", err, "name", name)
		return nil, mcp.NewToolErrorInternal("failed to register device: " + err.Error())
	}

	meta := s.cache.Resolve(ctx, url, false)

	log.Info("MCP device registered", "name", device.Name, "url", url, "has_metadata", meta != nil)
	return mcp.NewToolResponseText(formatDevice(device, meta)), nil
}

func (s *Server) handleDeviceGet(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	id, err := req.String("id")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("id is required: " + err.Error())
	}

	device, err := s.registry.Get(ctx, id)
	if err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			return mcp.NewToolResponseText(fmt.Sprintf("No device found with ID: %s", id)), nil
		}
		log.Error("MCP device get failed", "error", err, "id", id)
		return nil, mcp.NewToolErrorInternal("failed to get device: " + err.Error())
	}

	var meta *model.SiteMetadata
	if device.HasURL() {
		meta, _ = s.cache.Lookup(device.URLString())
	}

	return mcp.NewToolResponseText(formatDevice(device, meta)), nil
}

func (s *Server) handleDeviceList(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	query := strings.ToLower(req.StringOr("query", ""))

	devices, err := s.registry.List(ctx)
	if err != nil {
		log.Error("MCP device list failed", "error", err)
		return nil, mcp.NewToolErrorInternal("failed to list devices: " + err.Error())
	}

	var result strings.Builder
	count := 0
	for i := range devices {
		d := &devices[i]
		if query != "" && !strings.Contains(strings.ToLower(d.Name), query) && !strings.Contains(strings.ToLower(d.URLString()), query) {
			continue
		}
		count++
		url := d.URLString()
		if url == "" {
			url = "(no url)"
		}
		fmt.Fprintf(&result, "- %s: %s\n", d.Name, url)
	}

	if count == 0 {
		if query != "" {
			return mcp.NewToolResponseText(fmt.Sprintf("No devices found matching: %s", query)), nil
		}
		return mcp.NewToolResponseText("No devices found"), nil
	}

	return mcp.NewToolResponseText(fmt.Sprintf("Found %d devices:\n\n%s", count, result.String())), nil
}

func (s *Server) handleMetadataResolve(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	url, err := req.String("url")
	if err != nil || url == "" {
		return nil, mcp.NewToolErrorInvalidParams("url is required")
	}

	force := false
	if raw := req.StringOr("force", ""); raw != "" {
		force, err = strconv.ParseBool(raw)
		if err != nil {
			return nil, mcp.NewToolErrorInvalidParams("force must be true or false")
		}
	}

	meta := s.cache.Resolve(ctx, url, force)
	if meta == nil {
		return mcp.NewToolResponseText(fmt.Sprintf("No metadata available for %s", url)), nil
	}

	return mcp.NewToolResponseText(formatMetadata(meta)), nil
}

func (s *Server) handlePageScrape(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	url, err := req.String("url")
	if err != nil || url == "" {
		return nil, mcp.NewToolErrorInvalidParams("url is required")
	}

	meta, err := s.fetcher.FetchAndExtract(ctx, url)
	if err != nil {
		log.Info("MCP page scrape failed", "url", url, "error", err)
		return mcp.NewToolResponseText(fmt.Sprintf("Failed to fetch %s: %v", url, err)), nil
	}

	return mcp.NewToolResponseText(formatMetadata(meta)), nil
}

func formatDevice(device *model.Device, meta *model.SiteMetadata) string {
	var result strings.Builder
	fmt.Fprintf(&result, "ID: %s\n", device.Name)
	if device.HasURL() {
		fmt.Fprintf(&result, "URL: %s\n", device.URLString())
	} else {
		result.WriteString("URL: (not registered)\n")
	}
	fmt.Fprintf(&result, "First seen: %s\n", device.CreatedAt.Format("2006-01-02 15:04:05"))
	if meta != nil {
		result.WriteString("\n")
		result.WriteString(formatMetadata(meta))
	}
	return result.String()
}

func formatMetadata(meta *model.SiteMetadata) string {
	var result strings.Builder
	fmt.Fprintf(&result, "URL: %s\n", meta.URL)
	if meta.Title != "" {
		fmt.Fprintf(&result, "Title: %s\n", meta.Title)
	}
	if meta.Description != "" {
		fmt.Fprintf(&result, "Description: %s\n", meta.Description)
	}
	fmt.Fprintf(&result, "Icon: %s\n", meta.FaviconURL)
	if !meta.UpdatedAt.IsZero() {
		fmt.Fprintf(&result, "Updated: %s\n", meta.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return result.String()
}

// GetHTTPHandler returns the HTTP handler for the MCP server
func (s *Server) GetHTTPHandler() http.HandlerFunc {
	return s.HandleRequest
}

// LogStartup logs MCP server startup information
func (s *Server) LogStartup() {
	log.Info("MCP Server initialized", "version", serverVersion)
	if s.bearerToken != "" {
		log.Info("MCP authentication enabled", "type", "Bearer token")
	} else {
		log.Info("MCP authentication disabled")
	}
	tools := s.mcpServer.ListTools()
	log.Info("MCP tools registered", "count", len(tools))
	for _, tool := range tools {
		log.Debug("MCP tool registered", "name", tool.Name, "description", tool.Description)
	}
}
