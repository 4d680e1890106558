package main

import (
	"log"
	"os"
	"time"

	"github.com/gopxl/beep/mp3"
	"github.com/gordonklaus/portaudio"
)

// Manual playback harness: decode an mp3 straight into a portaudio stream,
// bypassing the engine. Handy when bisecting device trouble.
func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: test <file.mp3>")
	}

	f, err := os.Open(os.Args[1])
	if err != nil {
		log.Fatal(err)
	}
	stream, format, err := mp3.Decode(f)
	if err != nil {
		log.Fatal(err)
	}
	defer stream.Close()

	portaudio.Initialize()
	defer portaudio.Terminate()

	out, err := portaudio.OpenDefaultStream(
		0, 2, float64(format.SampleRate),
		format.SampleRate.N(time.Millisecond*20),
		func(out [][]float32) {
			tmp := make([][2]float64, len(out[0]))
			n, _ := stream.Stream(tmp)
			for i := 0; i < n; i++ {
				out[0][i] = float32(tmp[i][0])
				out[1][i] = float32(tmp[i][1])
			}
			for i := n; i < len(out[0]); i++ {
				out[0][i] = 0
				out[1][i] = 0
			}
		})
	if err != nil {
		log.Fatal(err)
	}
	out.Start()
	select {} // keep alive
}
