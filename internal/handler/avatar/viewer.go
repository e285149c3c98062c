package avatar

import (
	"html/template"
	"io"
)

// viewerTemplate 通过 LiveKit 订阅数字人音视频轨道；url 与 token 在 script 上下文中由模板转义。
var viewerTemplate = template.Must(template.New("viewer").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Avatar {{.SessionID}}</title>
<script src="https://unpkg.com/livekit-client/dist/livekit-client.umd.js"></script>
</head>
<body style="margin:0;background:#000">
<div id="video-container" style="width:100%;height:480px;background-color:#000">
  <video id="avatar-video" autoplay playsinline style="width:100%;height:100%"></video>
</div>
<script>
(async function () {
  const url = {{.URL}};
  const token = {{.AccessToken}};
  try {
    const room = new LivekitClient.Room({ adaptiveStream: true, dynacast: true });
    room.on(LivekitClient.RoomEvent.TrackSubscribed, (track) => {
      if (track.kind === 'video') {
        track.attach(document.getElementById('avatar-video'));
      }
      if (track.kind === 'audio') {
        track.attach();
      }
    });
    await room.connect(url, token);
  } catch (error) {
    console.error('Error connecting to LiveKit:', error);
    document.getElementById('video-container').innerHTML =
      '<div style="color:white;padding:20px">Error connecting to video stream.</div>';
  }
})();
</script>
</body>
</html>
`))

type viewerData struct {
	SessionID   string
	URL         string
	AccessToken string
}

func renderViewer(w io.Writer, data viewerData) error {
	return viewerTemplate.Execute(w, data)
}
