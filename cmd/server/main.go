package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"anonchat/internal/abuse"
	"anonchat/internal/api"
	"anonchat/internal/chat"
	"anonchat/internal/config"
	"anonchat/internal/db"
	"anonchat/internal/repository"
	"anonchat/internal/tasks"
	"anonchat/internal/textfilter"
)

func main() {
	cfg := config.Load()

	pool, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer pool.Close()

	roomRepo := repository.NewRoomRepo(pool)
	messageRepo := repository.NewMessageRepo(pool)
	pinRepo := repository.NewPinRepo(pool)
	auditRepo := repository.NewAuditRepo(pool)

	bans := abuse.NewList()
	mutes := abuse.NewList()
	ipLimiter := abuse.NewLimiter(cfg.IPLimitTokens, cfg.IPLimitWindow)
	userLimiter := abuse.NewLimiter(cfg.UserLimitTokens, cfg.UserLimitWindow)

	filter := textfilter.New(textfilter.Mode(cfg.FilterMode))
	hub := chat.NewHub(roomRepo)
	pipeline := chat.NewPipeline(hub, filter, ipLimiter, userLimiter, mutes, messageRepo, pinRepo, auditRepo, cfg)

	sweeper := tasks.NewSweeper(bans, mutes, []*abuse.Limiter{ipLimiter, userLimiter}, auditRepo, cfg.AuditRetention)
	sweeper.Start()

	secret := []byte(cfg.AdminKey)
	requireAdmin := api.RequireAdmin(secret)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", api.ServeWS(hub, pipeline, bans))
	mux.HandleFunc("GET /health", api.HealthHandler())

	mux.HandleFunc("POST /api/upload", api.UploadHandler(cfg.UploadDir, cfg.MaxFileMB))
	mux.Handle("GET /uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(cfg.UploadDir))))

	mux.HandleFunc("POST /admin/login", api.LoginHandler(cfg.AdminKey, secret))
	mux.Handle("GET /admin/state", requireAdmin(api.StateHandler(roomRepo, hub, bans, mutes)))
	mux.Handle("GET /admin/messages", requireAdmin(api.MessagesHandler(messageRepo)))
	mux.Handle("POST /admin/delete", requireAdmin(api.DeleteHandler(pipeline)))
	mux.Handle("POST /admin/pin", requireAdmin(api.PinHandler(pipeline)))
	mux.Handle("POST /admin/unpin", requireAdmin(api.UnpinHandler(pipeline)))
	mux.Handle("POST /admin/ban", requireAdmin(api.BanHandler(bans, hub)))
	mux.Handle("POST /admin/unban", requireAdmin(api.UnbanHandler(bans)))
	mux.Handle("POST /admin/mute", requireAdmin(api.MuteHandler(mutes)))
	mux.Handle("POST /admin/unmute", requireAdmin(api.UnmuteHandler(mutes)))

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Printf("Server starting on :%s...\n", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	<-stop

	fmt.Println("\nShutdown signal received. Cleaning up...")
	sweeper.Stop()
	hub.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
	fmt.Println("Graceful shutdown complete.")
}
